package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/errs"
)

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in chat.CreateRoomInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	room, err := s.rooms.Create(r.Context(), principal(r), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	rooms, pagination, err := s.rooms.List(r.Context(), principal(r), page, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePaged(w, rooms, pagination)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var in chat.UpdateRoomInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	room, err := s.rooms.Update(r.Context(), principal(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.rooms.Members(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if in.UserID == "" {
		writeError(w, s.logger, errs.ValidationFields("invalid request", map[string]string{"userId": "required"}))
		return
	}
	m, err := s.rooms.AddMember(r.Context(), principal(r), chi.URLParam(r, "id"), in.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.rooms.RemoveMember(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	m, err := s.rooms.UpdateMemberRole(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "userID"), in.Role)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
