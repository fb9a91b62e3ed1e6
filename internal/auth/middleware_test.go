package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store/memory"
)

type stubCookies struct {
	sessionID uuid.UUID
	err       error
}

func (s stubCookies) SessionID(*http.Request) (uuid.UUID, error) {
	return s.sessionID, s.err
}

type authFixture struct {
	auth     *Authenticator
	issuer   *TokenIssuer
	sessions *memory.SessionStore
	userID   uuid.UUID
	session  *models.Session
}

func newAuthFixture(t *testing.T, cookies SessionCookieReader) *authFixture {
	t.Helper()

	now := time.Now()
	f := &authFixture{
		issuer:   newTestIssuer(t),
		sessions: memory.NewSessionStore(),
		userID:   uuid.New(),
	}
	f.session = &models.Session{
		SessionID:  uuid.New(),
		UserID:     f.userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		LastUsedAt: now,
	}
	require.NoError(t, f.sessions.Create(context.Background(), f.session))
	f.auth = NewAuthenticator(f.issuer, cookies, f.sessions)
	return f
}

func serve(t *testing.T, a *Authenticator, req *http.Request) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()

	var seen *Principal
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthenticator_Bearer(t *testing.T) {
	f := newAuthFixture(t, nil)

	token, _, err := f.issuer.Issue(f.userID, f.session.SessionID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/orgs", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, principal := serve(t, f.auth, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, principal)
	require.Equal(t, f.userID, principal.UserID)
}

func TestAuthenticator_BearerRevokedSession(t *testing.T) {
	f := newAuthFixture(t, nil)

	token, _, err := f.issuer.Issue(f.userID, f.session.SessionID)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Revoke(context.Background(), f.session.SessionID, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/orgs", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, _ := serve(t, f.auth, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_BearerInvalid(t *testing.T) {
	f := newAuthFixture(t, stubCookies{err: http.ErrNoCookie})

	req := httptest.NewRequest(http.MethodGet, "/orgs", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	rec, _ := serve(t, f.auth, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_Cookie(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.auth.cookies = stubCookies{sessionID: f.session.SessionID}

	rec, principal := serve(t, f.auth, httptest.NewRequest(http.MethodGet, "/orgs", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, principal)
	require.Equal(t, MethodSession, principal.Method)
	require.Equal(t, f.userID, principal.UserID)
}

func TestAuthenticator_Anonymous(t *testing.T) {
	tests := []struct {
		name    string
		cookies SessionCookieReader
	}{
		{name: "no cookie reader"},
		{name: "no cookie", cookies: stubCookies{err: http.ErrNoCookie}},
		{name: "unknown session", cookies: stubCookies{sessionID: uuid.New()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t, tt.cookies)
			rec, principal := serve(t, f.auth, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusNoContent, rec.Code)
			require.Nil(t, principal)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &Principal{UserID: uuid.New()}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	actor := ActorFromContext(req.Context())
	require.NotNil(t, actor)
}
