package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/wolfeidau/grc/internal/auth"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/login"
)

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// issueToken exchanges the current browser session, or email and password credentials, for
// an access token bound to a session. Logging out that session revokes the token.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())

	var userID, sessionID uuid.UUID
	if principal != nil && principal.Method == auth.MethodSession {
		userID, sessionID = principal.UserID, principal.SessionID
	} else {
		var creds login.Credentials
		if err := httpmiddleware.DecodeJSON(w, r, &creds); err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}

		user, err := s.cfg.Passwords.Authenticate(r.Context(), creds)
		if err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}

		session, err := s.cfg.Sessions.Create(r.Context(), r, user.UserID)
		if err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}
		userID, sessionID = user.UserID, session.SessionID
	}

	token, expiresAt, err := s.cfg.Tokens.Issue(userID, sessionID)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("user_id", userID.String()).Msg("Issued access token")

	w.Header().Set("Cache-Control", "no-store")
	httpmiddleware.WriteJSON(w, r, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.UTC(),
	})
}

// discovery publishes where the signing key and token endpoint live.
func (s *Server) discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	httpmiddleware.WriteJSON(w, r, http.StatusOK, map[string]any{
		"issuer":                                s.cfg.Issuer,
		"jwks_uri":                              s.cfg.Issuer + "/.well-known/jwks.json",
		"token_endpoint":                        s.cfg.Issuer + "/auth/token",
		"response_types_supported":              []string{"token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"ES256"},
	})
}

func (s *Server) jwks(w http.ResponseWriter, r *http.Request) {
	jwk, err := s.cfg.Keys.JWK()
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	httpmiddleware.WriteJSON(w, r, http.StatusOK, map[string]any{"keys": []any{jwk}})
}
