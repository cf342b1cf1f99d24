package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/tutord/internal/session"
)

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, string(session.KindInvalidRequest), "no JSON data provided")
			return
		}
		respondError(w, http.StatusBadRequest, string(session.KindInvalidRequest), err.Error())
		return
	}

	res, err := s.sessions.Start(r.Context(), req)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, string(session.KindInvalidRequest), "no JSON data provided")
			return
		}
		respondError(w, http.StatusBadRequest, string(session.KindInvalidRequest), err.Error())
		return
	}

	res, err := s.sessions.SendMessage(r.Context(), id, req.Message)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, string(session.KindInvalidRequest), "missing session id")
		return
	}

	res, err := s.sessions.End(r.Context(), id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
