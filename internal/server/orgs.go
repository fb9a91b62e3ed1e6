package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/tenancy"
)

type contextKey int

const organizationContextKey contextKey = iota

// OrganizationFromContext returns the organization resolved by RequireMembership.
func OrganizationFromContext(ctx context.Context) *models.Organization {
	org, _ := ctx.Value(organizationContextKey).(*models.Organization)
	return org
}

// RequireMembership resolves {slug} and admits only members of that organization. An unknown
// slug is 404 and an existing organization the actor does not belong to is 403.
func (s *Server) RequireMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, err := s.cfg.Directory.Organization(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}

		actor := auth.ActorFromContext(r.Context())
		if actor == nil {
			httpmiddleware.WriteError(w, r, apperr.ErrUnauthenticated)
			return
		}

		role, err := s.cfg.Directory.Role(r.Context(), org.OrgID, *actor)
		if err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}

		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("org_id", org.OrgID.String()).Str("role", role.String())
		})

		ctx := context.WithValue(r.Context(), organizationContextKey, org)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type organizationView struct {
	*models.Organization
	Role models.Role `json:"role"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	user, err := s.cfg.Stores.Users.Get(r.Context(), *actor)
	if err != nil {
		httpmiddleware.WriteError(w, r, fmt.Errorf("failed to get user: %w", err))
		return
	}
	httpmiddleware.WriteJSON(w, r, http.StatusOK, user)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())

	orgs, err := s.cfg.Directory.OrganizationsFor(r.Context(), *actor)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	views := make([]organizationView, 0, len(orgs))
	for _, org := range orgs {
		role, err := s.cfg.Directory.Role(r.Context(), org.OrgID, *actor)
		if err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}
		views = append(views, organizationView{Organization: org, Role: role})
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, views)
}

type organizationRequest struct {
	Name string `json:"name"`
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	actor := auth.ActorFromContext(r.Context())
	org, err := s.cfg.Directory.CreateOrganization(r.Context(), tenancy.ForActor(nil, *actor), *actor, req.Name)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusCreated, organizationView{Organization: org, Role: models.RoleOwner})
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	sc := scope(r)
	role, err := s.cfg.Directory.Role(r.Context(), sc.OrgID(), *sc.Actor)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	httpmiddleware.WriteJSON(w, r, http.StatusOK, organizationView{Organization: sc.Org, Role: role})
}

func (s *Server) renameOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	org, err := s.cfg.Directory.RenameOrganization(r.Context(), scope(r), req.Name)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, org)
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Directory.DeleteOrganization(r.Context(), scope(r)); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathUUID parses a UUID route parameter. A malformed id cannot name anything, so it is 404.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return id, fmt.Errorf("%w: %s", apperr.ErrNotFound, name)
	}
	return id, nil
}
