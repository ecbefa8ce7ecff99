package httpapi

import (
	"net/http"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/errs"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	session, err := s.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	session, err := s.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if in.RefreshToken == "" {
		writeError(w, s.logger, errs.ValidationFields("invalid request", map[string]string{"refreshToken": "required"}))
		return
	}
	session, err := s.auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.auth.Logout(r.Context(), in.RefreshToken); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Profile(r.Context(), principal(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in auth.UpdateProfileInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.auth.UpdateProfile(r.Context(), principal(r).ID, in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
