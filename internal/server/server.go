// Package server exposes the organization API over HTTP and the reporting service over connect.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/invitation"
	"github.com/wolfeidau/grc/internal/logger"
	"github.com/wolfeidau/grc/internal/login"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
)

// Config wires the server. Github is optional.
type Config struct {
	Stores        *store.Stores
	Directory     *directory.Directory
	Invitations   *invitation.Service
	Gate          *auth.Gate
	Recorder      *audit.Recorder
	Authenticator *auth.Authenticator
	Tokens        *auth.TokenIssuer
	Keys          *auth.KeyManager
	Sessions      *login.Sessions
	Passwords     *login.Passwords
	Github        *login.Github

	// Issuer is the public origin, used as the token issuer and in discovery.
	Issuer       string
	CORSOrigins  []string
	Interceptors []connect.Interceptor
	Logger       zerolog.Logger
}

// Server serves the API.
type Server struct {
	cfg       Config
	entities  *entityRepositories
	reporting *ReportingServer
}

// New creates a Server.
func New(cfg Config) *Server {
	entities := newEntityRepositories(cfg.Stores.Entities, cfg.Gate, cfg.Recorder)
	return &Server{
		cfg:       cfg,
		entities:  entities,
		reporting: NewReportingServer(cfg.Stores, cfg.Directory, cfg.Gate, entities),
	}
}

// Handler returns the complete HTTP handler including access logging, CORS, cross-origin
// protection and compression.
func (s *Server) Handler() (http.Handler, error) {
	protection := csrf.New()
	for _, origin := range s.cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, err
		}
	}

	var h http.Handler = s.Router()
	h = gzhttp.GzipHandler(h)
	h = protection.Handler(h)
	h = withCORS(s.cfg.CORSOrigins, h)
	h = logger.HTTPRequests(s.cfg.Logger)(h)

	return h, nil
}

// Router returns the routes without the outer middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(httpmiddleware.ClientIPMiddleware())
	r.Use(s.cfg.Authenticator.Middleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteJSON(w, r, http.StatusNotFound, httpmiddleware.ErrorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	// Health check endpoint for load balancer
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/.well-known/openid-configuration", s.discovery)
	r.Get("/.well-known/jwks.json", s.jwks)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.cfg.Passwords.LoginHandler)
		r.Post("/token", s.issueToken)
		r.Post("/logout", s.cfg.Sessions.LogoutHandler)
		if s.cfg.Github != nil {
			r.Get("/github", s.cfg.Github.LoginHandler)
			r.Get("/github/callback", s.cfg.Github.CallbackHandler)
		}
	})

	r.Get("/invitations/{token}", s.showInvitation)
	r.Post("/invitations/{token}/accept", s.acceptInvitation)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/me", s.me)
		r.Get("/orgs", s.listOrganizations)
		r.Post("/orgs", s.createOrganization)

		r.Route("/orgs/{slug}", func(r chi.Router) {
			r.Use(s.RequireMembership)

			r.Get("/", s.getOrganization)
			r.Patch("/", s.renameOrganization)
			r.Delete("/", s.deleteOrganization)

			r.Get("/members", s.listMembers)
			r.Patch("/members/{userID}", s.changeRole)
			r.Delete("/members/{userID}", s.removeMember)

			r.Get("/invitations", s.listInvitations)
			r.Post("/invitations", s.createInvitation)
			r.Delete("/invitations/{invitationID}", s.revokeInvitation)

			r.Get("/activity", s.listActivity)

			s.entities.mount(r)
		})
	})

	path, handler := s.reporting.Handler(s.cfg.Interceptors...)
	r.Mount(path, handler)

	log.Debug().Str("path", path).Msg("Reporting service registered")

	return r
}

// scope builds the tenant scope of an org-gated request.
func scope(r *http.Request) tenancy.Scope {
	org := OrganizationFromContext(r.Context())
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		return tenancy.Scope{Org: org}
	}
	return tenancy.ForActor(org, *actor)
}

// withCORS adds CORS support for browser clients of the API and the connect service.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   append(connectcors.AllowedMethods(), http.MethodPatch, http.MethodDelete),
		AllowedHeaders:   append(connectcors.AllowedHeaders(), "Authorization"),
		ExposedHeaders:   append(connectcors.ExposedHeaders(), "Request-Id"),
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
