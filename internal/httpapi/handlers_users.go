package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/errs"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	page, limit = chat.NormalizePage(page, limit)
	users, total, err := s.auth.ListUsers(r.Context(), principal(r), page, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePaged(w, users, chat.Paginate(page, limit, total))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUser(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.DeleteUser(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if in.Role == "" {
		writeError(w, s.logger, errs.ValidationFields("invalid request", map[string]string{"role": "required"}))
		return
	}
	user, err := s.auth.SetUserRole(r.Context(), principal(r), chi.URLParam(r, "id"), in.Role)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.SetUserActive(r.Context(), principal(r), chi.URLParam(r, "id"), true)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.SetUserActive(r.Context(), principal(r), chi.URLParam(r, "id"), false)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
