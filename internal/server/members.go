package server

import (
	"net/http"

	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
)

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.cfg.Directory.Members(r.Context(), scope(r))
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	httpmiddleware.WriteJSON(w, r, http.StatusOK, members)
}

type roleRequest struct {
	Role models.Role `json:"role"`
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	var req roleRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	m, err := s.cfg.Directory.ChangeRole(r.Context(), scope(r), userID, req.Role)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, m)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	if err := s.cfg.Directory.RemoveMember(r.Context(), scope(r), userID); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
