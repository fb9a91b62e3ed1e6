package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// ErrBadCredentials is returned for an unknown email or a wrong password alike.
var ErrBadCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthenticated)

// Passwords authenticates users with their email and password.
type Passwords struct {
	users    store.UserStore
	sessions *Sessions
}

// NewPasswords creates a password login. sessions may be nil when only Authenticate is used.
func NewPasswords(users store.UserStore, sessions *Sessions) *Passwords {
	return &Passwords{users: users, sessions: sessions}
}

// Credentials is the body of a password login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Authenticate returns the user owning the credentials.
func (p *Passwords) Authenticate(ctx context.Context, creds Credentials) (*models.User, error) {
	email := models.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, ErrBadCredentials
	}

	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := auth.VerifyPassword(creds.Password, user.PasswordHash)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.UserID.String()).Msg("Stored password hash is unreadable")
	}
	if !ok {
		log.Debug().Str("user_id", user.UserID.String()).Msg("Password mismatch")
		return nil, ErrBadCredentials
	}

	return user, nil
}

// LoginHandler accepts JSON credentials, starts a session and returns the user.
func (p *Passwords) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := httpmiddleware.DecodeJSON(w, r, &creds); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	user, err := p.Authenticate(r.Context(), creds)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	if _, err := p.sessions.Start(r.Context(), w, r, user.UserID); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, user)
}
