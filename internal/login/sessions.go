// Package login establishes browser sessions with a password or a linked GitHub account.
package login

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// CookieName is the session cookie.
const CookieName = "_session"

var ErrInvalidSession = errors.New("invalid session")

// Sessions issues and revokes server-side sessions. The cookie carries only the session id
// with an HMAC signature, everything else stays in the store.
type Sessions struct {
	store  store.SessionStore
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessions creates a session manager. insecure drops the Secure cookie attribute for
// plain HTTP development servers.
func NewSessions(sessions store.SessionStore, secret []byte, ttl time.Duration, insecure bool) (*Sessions, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be greater than 0")
	}

	return &Sessions{
		store:  sessions,
		secret: secret,
		ttl:    ttl,
		secure: !insecure,
		now:    time.Now,
	}, nil
}

// TTL returns the session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Create persists a session for userID without setting a cookie. API tokens reference
// sessions created this way.
func (s *Sessions) Create(ctx context.Context, r *http.Request, userID uuid.UUID) (*models.Session, error) {
	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	ip := httpmiddleware.ClientIPFromContext(ctx)
	if ip == "" {
		ip = httpmiddleware.ExtractClientIP(r)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	session := &models.Session{
		SessionID:  sessionID,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
		UserAgent:  r.UserAgent(),
		IPAddress:  ip,
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Msg("Session started")

	return session, nil
}

// Start creates a session for userID and sets the cookie.
func (s *Sessions) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, userID uuid.UUID) (*models.Session, error) {
	session, err := s.Create(ctx, r, userID)
	if err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.encode(session.SessionID),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})

	return session, nil
}

// SessionID returns the id from a correctly signed session cookie. It does not consult the
// store, callers check revocation and expiry.
func (s *Sessions) SessionID(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return uuid.Nil, http.ErrNoCookie
	}
	return s.decode(cookie.Value)
}

// End revokes the request's session, if any, and clears the cookie.
func (s *Sessions) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	defer s.clear(w)

	sessionID, err := s.SessionID(r)
	if err != nil {
		return nil
	}

	if err := s.store.Revoke(ctx, sessionID, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	log.Info().Str("session_id", sessionID.String()).Msg("Session revoked")

	return nil
}

// LogoutHandler revokes the session and always clears the cookie.
func (s *Sessions) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.End(r.Context(), w, r); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sessions) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// encode returns base64(session_id).base64(hmac)
func (s *Sessions) encode(sessionID uuid.UUID) string {
	encoded := base64.RawURLEncoding.EncodeToString(sessionID[:])
	return encoded + "." + base64.RawURLEncoding.EncodeToString(s.sign(encoded))
}

func (s *Sessions) decode(value string) (uuid.UUID, error) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		log.Debug().Msg("Invalid session cookie format")
		return uuid.Nil, ErrInvalidSession
	}

	receivedSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		log.Debug().Msg("Invalid session cookie signature encoding")
		return uuid.Nil, ErrInvalidSession
	}

	if !hmac.Equal(receivedSig, s.sign(encoded)) {
		log.Debug().Msg("Session cookie HMAC signature validation failed")
		return uuid.Nil, ErrInvalidSession
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}

	sessionID, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}

	return sessionID, nil
}

func (s *Sessions) sign(encoded string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}
