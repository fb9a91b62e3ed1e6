package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// SessionCookieReader extracts the session id from a signed browser cookie.
// It returns http.ErrNoCookie when the request carries no session cookie.
type SessionCookieReader interface {
	SessionID(r *http.Request) (uuid.UUID, error)
}

// Authenticator resolves the principal of a request from a bearer token or a session cookie.
// Both paths end at the session store so logout revokes API tokens as well.
type Authenticator struct {
	tokens   *TokenIssuer
	cookies  SessionCookieReader
	sessions store.SessionStore
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator. cookies may be nil to accept bearer tokens only.
func NewAuthenticator(tokens *TokenIssuer, cookies SessionCookieReader, sessions store.SessionStore) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		cookies:  cookies,
		sessions: sessions,
		now:      time.Now,
	}
}

// Middleware attaches the principal to the request context when credentials are present.
// Requests without credentials continue anonymously; a bearer token that fails verification
// is rejected outright rather than falling back to the cookie.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r)
			if err != nil {
				log.Debug().Err(err).Msg("Authentication failed")
				httpmiddleware.WriteError(w, r, err)
				return
			}

			if principal != nil {
				r = r.WithContext(WithPrincipal(r.Context(), principal))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate returns the request principal, or nil when no credentials were presented.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	ctx := r.Context()

	if tokenString, ok := bearerToken(r); ok {
		principal, err := a.tokens.Verify(tokenString)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
		}
		if err := a.checkSession(ctx, principal.SessionID, principal.UserID); err != nil {
			return nil, err
		}
		return principal, nil
	}

	if a.cookies == nil {
		return nil, nil
	}

	sessionID, err := a.cookies.SessionID(r)
	if err != nil {
		if !errors.Is(err, http.ErrNoCookie) {
			log.Debug().Err(err).Msg("Ignoring invalid session cookie")
		}
		return nil, nil
	}

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		// a stale cookie is treated as anonymous so login pages keep working
		log.Debug().Err(err).Str("session_id", sessionID.String()).Msg("Ignoring inactive session")
		return nil, nil
	}

	return &Principal{UserID: session.UserID, SessionID: session.SessionID, Method: MethodSession}, nil
}

func (a *Authenticator) checkSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return fmt.Errorf("%w: session does not belong to token subject", apperr.ErrUnauthenticated)
	}
	return nil
}

func (a *Authenticator) activeSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: unknown session", apperr.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	now := a.now()
	if session.IsRevoked() || session.IsExpired(now) {
		return nil, fmt.Errorf("%w: session is no longer active", apperr.ErrUnauthenticated)
	}

	if err := a.sessions.UpdateLastUsed(ctx, sessionID, now); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to update session last used")
	}

	return session, nil
}

// RequireAuth rejects requests without a principal.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			httpmiddleware.WriteError(w, r, fmt.Errorf("%w: authentication required", apperr.ErrUnauthenticated))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}
