package login

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

// Github signs in existing users through GitHub OAuth. Accounts are matched on a verified
// email address, new accounts are only ever created by accepting an invitation.
type Github struct {
	config   *oauth2.Config
	users    store.UserStore
	sessions *Sessions
	api      *http.Client
	apiURL   string
	now      func() time.Time
}

func NewGithub(clientID, clientSecret, callbackURL string, users store.UserStore, sessions *Sessions) (*Github, error) {
	if users == nil || sessions == nil {
		return nil, fmt.Errorf("user store and sessions are required")
	}

	if clientID == "" || clientSecret == "" || callbackURL == "" {
		return nil, fmt.Errorf("client ID, client secret, and callback URL are required")
	}

	return &Github{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		users:    users,
		sessions: sessions,
		api:      &http.Client{Transport: httpcache.NewMemoryCacheTransport()}, // revalidates with ETags, entries vary by Authorization
		apiURL:   githubAPI,
		now:      time.Now,
	}, nil
}

func (g *Github) saveState(w http.ResponseWriter) string {
	state := rand.Text()

	http.SetCookie(w, &http.Cookie{
		Name:     "state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes - enough time for OAuth flow
	})

	return state
}

func (g *Github) LoginHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("Initiating GitHub OAuth flow")

	state := g.saveState(w)

	http.Redirect(w, r, g.config.AuthCodeURL(state), http.StatusFound)
}

func (g *Github) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("OAuth callback received")

	state := r.FormValue("state")
	code := r.FormValue("code")

	if state == "" || code == "" {
		log.Warn().Msg("OAuth callback missing state or code")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie("state")
	if err != nil {
		log.Warn().Err(err).Msg("OAuth callback missing state cookie")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if state != cookie.Value {
		log.Warn().Msg("OAuth callback state mismatch")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "state",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	token, err := g.config.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to exchange OAuth code for token")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	userInfo, err := g.getUserInfo(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch user info from GitHub")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if userInfo.Email == "" {
		log.Warn().Str("login", userInfo.Login).Msg("GitHub user has no verified email address")
		http.Error(w, "Verified email address required", http.StatusBadRequest)
		return
	}

	user, err := g.linkUser(r.Context(), userInfo)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Info().Str("login", userInfo.Login).Msg("GitHub login without an account")
			http.Error(w, "No account exists for this email, accept an invitation first", http.StatusForbidden)
			return
		}
		log.Error().Err(err).Msg("Failed to link GitHub account")
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}

	if _, err := g.sessions.Start(r.Context(), w, r, user.UserID); err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// linkUser finds the account owning the verified email and records the GitHub login on it.
func (g *Github) linkUser(ctx context.Context, info *UserInfo) (*models.User, error) {
	user, err := g.users.GetByEmail(ctx, models.NormalizeEmail(info.Email))
	if err != nil {
		return nil, err
	}

	if user.GitHubLogin != nil && *user.GitHubLogin == info.Login {
		return user, nil
	}

	login := info.Login
	user.GitHubLogin = &login
	user.UpdatedAt = g.now().UTC().Truncate(time.Microsecond)
	if err := g.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	log.Info().
		Str("user_id", user.UserID.String()).
		Str("login", info.Login).
		Msg("Linked GitHub account")

	return user, nil
}

func (g *Github) getUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	// Add timeout to prevent hanging on slow GitHub API
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var userInfo UserInfo
	if err := g.get(ctx, token, "/user", &userInfo); err != nil {
		return nil, err
	}

	// the profile email is public but not necessarily verified
	var emails []githubEmail
	if err := g.get(ctx, token, "/user/emails", &emails); err != nil {
		return nil, err
	}

	userInfo.Email = ""
	for _, email := range emails {
		if email.Primary && email.Verified {
			userInfo.Email = email.Email
			break
		}
	}

	return &userInfo, nil
}

func (g *Github) get(ctx context.Context, token *oauth2.Token, path string, v any) error {
	client := g.config.Client(context.WithValue(ctx, oauth2.HTTPClient, g.api), token)
	resp, err := client.Get(g.apiURL + path)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub API returned HTTP %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type UserInfo struct {
	Login string `json:"login"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
