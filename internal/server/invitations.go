package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfeidau/grc/internal/auth"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/invitation"
	"github.com/wolfeidau/grc/internal/models"
)

type inviteRequest struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	issued, err := s.cfg.Invitations.Invite(r.Context(), scope(r), req.Email, req.Role)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusCreated, issued)
}

func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := s.cfg.Invitations.Pending(r.Context(), scope(r))
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	httpmiddleware.WriteJSON(w, r, http.StatusOK, invitations)
}

func (s *Server) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "invitationID")
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	if err := s.cfg.Invitations.Revoke(r.Context(), scope(r), id); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// showInvitation is reachable without a session. The signed query decides whether it resolves.
func (s *Server) showInvitation(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Invitations.Lookup(r.Context(), chi.URLParam(r, "token"), r.URL.Query())
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	httpmiddleware.WriteJSON(w, r, http.StatusOK, view)
}

type acceptRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// acceptInvitation accepts as the authenticated user, or registers or signs in with the body.
// A session is started for the accepting user when the request had none.
func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())

	var req acceptRequest
	if actor == nil {
		if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}
	}

	accepted, err := s.cfg.Invitations.Accept(r.Context(), chi.URLParam(r, "token"), r.URL.Query(), invitation.AcceptRequest{
		Actor:    actor,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	if actor == nil {
		if _, err := s.cfg.Sessions.Start(r.Context(), w, r, accepted.User.UserID); err != nil {
			httpmiddleware.WriteError(w, r, err)
			return
		}
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, accepted)
}
