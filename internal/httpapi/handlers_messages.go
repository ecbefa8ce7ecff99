package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/errs"
)

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	msg, err := s.messages.Send(r.Context(), principal(r), chi.URLParam(r, "id"), in.Body, requestIP(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	params := chat.ListParams{Page: page, Limit: limit}

	if before := r.URL.Query().Get("before"); before != "" {
		cursor, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			writeError(w, s.logger, errs.ValidationFields("invalid request", map[string]string{"before": "must be an RFC 3339 timestamp"}))
			return
		}
		params.Cursor = &cursor
	}

	list, pagination, err := s.messages.List(r.Context(), principal(r), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePaged(w, list, pagination)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.messages.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	msg, err := s.messages.Update(r.Context(), principal(r), chi.URLParam(r, "id"), in.Body)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.messages.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
