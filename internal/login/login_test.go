package login

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/store/memory"
	"golang.org/x/oauth2"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func createTestSessions(t *testing.T, sessions store.SessionStore) *Sessions {
	t.Helper()
	s, err := NewSessions(sessions, testSecret, time.Hour, false)
	require.NoError(t, err)
	return s
}

func createTestUser(t *testing.T, users store.UserStore, email, password string) *models.User {
	t.Helper()
	user := &models.User{UserID: uuid.New(), Name: "Test User", Email: email}
	if password != "" {
		hash, err := auth.HashPassword(password)
		require.NoError(t, err)
		user.PasswordHash = hash
	}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestNewSessions(t *testing.T) {
	_, err := NewSessions(nil, testSecret, time.Hour, false)
	require.Error(t, err)

	_, err = NewSessions(memory.NewSessionStore(), []byte("short"), time.Hour, false)
	require.ErrorContains(t, err, "32 bytes")

	_, err = NewSessions(memory.NewSessionStore(), testSecret, 0, false)
	require.ErrorContains(t, err, "TTL")
}

func TestSessions_StartAndRead(t *testing.T) {
	sessions := memory.NewSessionStore()
	s := createTestSessions(t, sessions)
	userID := uuid.New()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	session, err := s.Start(context.Background(), w, r, userID)
	require.NoError(t, err)
	require.Equal(t, userID, session.UserID)
	require.Equal(t, "test-agent", session.UserAgent)
	require.Equal(t, "203.0.113.7", session.IPAddress)

	cookie := sessionCookie(t, w)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, 3600, cookie.MaxAge)
	require.NotContains(t, cookie.Value, session.SessionID.String())

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	sessionID, err := s.SessionID(r)
	require.NoError(t, err)
	require.Equal(t, session.SessionID, sessionID)

	stored, err := sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, userID, stored.UserID)
}

func TestSessions_SessionID_invalid(t *testing.T) {
	s := createTestSessions(t, memory.NewSessionStore())
	other, err := NewSessions(memory.NewSessionStore(), []byte("fedcba9876543210fedcba9876543210"), time.Hour, false)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = s.SessionID(r)
	require.ErrorIs(t, err, http.ErrNoCookie)

	tests := []struct {
		name  string
		value string
	}{
		{"no separator", "abc"},
		{"raw uuid", uuid.NewString()},
		{"bad signature encoding", "abc.!!"},
		{"other secret", other.encode(uuid.New())},
		{"truncated id", "YWJj." + base64.RawURLEncoding.EncodeToString(s.sign("YWJj"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.value})
			_, err := s.SessionID(r)
			require.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestSessions_LogoutHandler(t *testing.T) {
	sessions := memory.NewSessionStore()
	s := createTestSessions(t, sessions)

	w := httptest.NewRecorder()
	session, err := s.Start(context.Background(), w, httptest.NewRequest(http.MethodPost, "/", nil), uuid.New())
	require.NoError(t, err)

	w2 := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(sessionCookie(t, w))
	s.LogoutHandler(w2, r)

	require.Equal(t, http.StatusNoContent, w2.Code)
	cleared := sessionCookie(t, w2)
	require.Empty(t, cleared.Value)
	require.Equal(t, -1, cleared.MaxAge)

	stored, err := sessions.Get(context.Background(), session.SessionID)
	require.NoError(t, err)
	require.True(t, stored.IsRevoked())
}

func TestSessions_LogoutHandler_noSession(t *testing.T) {
	s := createTestSessions(t, memory.NewSessionStore())

	w := httptest.NewRecorder()
	s.LogoutHandler(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, -1, sessionCookie(t, w).MaxAge)
}

func TestPasswords_LoginHandler(t *testing.T) {
	stores := memory.New()
	createTestUser(t, stores.Users, "alice@example.com", "alice-password-1")
	p := NewPasswords(stores.Users, createTestSessions(t, stores.Sessions))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"email":" Alice@Example.com ","password":"alice-password-1"}`, http.StatusOK},
		{"wrong password", `{"email":"alice@example.com","password":"nope-nope-nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"bob@example.com","password":"alice-password-1"}`, http.StatusUnauthorized},
		{"empty", `{}`, http.StatusUnauthorized},
		{"malformed", `{"email":`, http.StatusUnprocessableEntity},
		{"unknown field", `{"email":"alice@example.com","role":"owner"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			p.LoginHandler(w, r)

			require.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				require.Empty(t, w.Result().Cookies())
				return
			}

			var user models.User
			require.NoError(t, json.NewDecoder(w.Body).Decode(&user))
			require.Equal(t, "alice@example.com", user.Email)
			require.NotEmpty(t, sessionCookie(t, w).Value)
		})
	}
}

func TestPasswords_Authenticate_noPassword(t *testing.T) {
	stores := memory.New()
	createTestUser(t, stores.Users, "sso@example.com", "")
	p := NewPasswords(stores.Users, nil)

	_, err := p.Authenticate(context.Background(), Credentials{Email: "sso@example.com", Password: "anything-at-all"})
	require.ErrorIs(t, err, ErrBadCredentials)
}

func newTestGithub(t *testing.T, stores *store.Stores) *Github {
	t.Helper()
	gh, err := NewGithub("test-client-id", "test-client-secret", "http://localhost/callback", stores.Users, createTestSessions(t, stores.Sessions))
	require.NoError(t, err)
	return gh
}

func TestNewGithub(t *testing.T) {
	stores := memory.New()
	gh := newTestGithub(t, stores)
	require.Equal(t, "test-client-id", gh.config.ClientID)
	require.Equal(t, []string{"user:email"}, gh.config.Scopes)

	_, err := NewGithub("", "secret", "http://localhost/callback", stores.Users, gh.sessions)
	require.ErrorContains(t, err, "client ID")

	_, err = NewGithub("id", "secret", "http://localhost/callback", nil, gh.sessions)
	require.Error(t, err)
}

func TestGithub_LoginHandler(t *testing.T) {
	gh := newTestGithub(t, memory.New())

	w := httptest.NewRecorder()
	gh.LoginHandler(w, httptest.NewRequest(http.MethodGet, "/auth/github", nil))

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.Contains(t, location, "github.com/login/oauth/authorize")
	require.Contains(t, location, "client_id=test-client-id")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "state", cookies[0].Name)
	require.Contains(t, location, "state="+cookies[0].Value)
}

func TestGithub_CallbackHandler_invalidRequest(t *testing.T) {
	gh := newTestGithub(t, memory.New())

	tests := []struct {
		name   string
		query  string
		cookie string
	}{
		{"missing state", "code=some-code", ""},
		{"missing code", "state=some-state", ""},
		{"missing state cookie", "state=some-state&code=some-code", ""},
		{"state mismatch", "state=wrong-state&code=some-code", "correct-state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+tt.query, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "state", Value: tt.cookie})
			}

			gh.CallbackHandler(w, r)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Contains(t, w.Body.String(), "Authentication failed")
		})
	}
}

func githubAPIServer(t *testing.T, emails string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"login":"octocat","email":"public@example.com","name":"Octo Cat"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(emails))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGithub_getUserInfo(t *testing.T) {
	tests := []struct {
		name   string
		emails string
		want   string
	}{
		{"primary verified", `[{"email":"other@example.com","verified":true},{"email":"octo@example.com","primary":true,"verified":true}]`, "octo@example.com"},
		{"primary unverified", `[{"email":"octo@example.com","primary":true,"verified":false}]`, ""},
		{"none", `[]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newTestGithub(t, memory.New())
			gh.apiURL = githubAPIServer(t, tt.emails).URL

			info, err := gh.getUserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})
			require.NoError(t, err)
			require.Equal(t, "octocat", info.Login)
			require.Equal(t, tt.want, info.Email)
		})
	}
}

func TestGithub_linkUser(t *testing.T) {
	stores := memory.New()
	gh := newTestGithub(t, stores)
	user := createTestUser(t, stores.Users, "octo@example.com", "")

	linked, err := gh.linkUser(context.Background(), &UserInfo{Login: "octocat", Email: "Octo@Example.com"})
	require.NoError(t, err)
	require.Equal(t, user.UserID, linked.UserID)

	stored, err := stores.Users.Get(context.Background(), user.UserID)
	require.NoError(t, err)
	require.NotNil(t, stored.GitHubLogin)
	require.Equal(t, "octocat", *stored.GitHubLogin)

	_, err = gh.linkUser(context.Background(), &UserInfo{Login: "stranger", Email: "stranger@example.com"})
	require.ErrorIs(t, err, store.ErrUserNotFound)
}
