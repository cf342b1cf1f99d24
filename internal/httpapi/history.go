package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/tutord/internal/archive"
)

const maxListLimit = 200

func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	if !s.archiveReady(w) {
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := s.archives.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list archived sessions failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "archive_failed", "failed to fetch user sessions")
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	message := "Sessions retrieved successfully"
	if len(records) == 0 {
		message = "No sessions found"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":  message,
		"sessions": records,
	})
}

func (s *Server) handleGetUserSession(w http.ResponseWriter, r *http.Request) {
	if !s.archiveReady(w) {
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))

	rec, err := s.archives.Get(r.Context(), userID, sessionID)
	if errors.Is(err, archive.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "archived session not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "get archived session failed", "user_id", userID, "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "archive_failed", "failed to fetch session")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUserAnalytics(w http.ResponseWriter, r *http.Request) {
	if !s.archiveReady(w) {
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	a, err := s.archives.Analytics(r.Context(), userID, time.Now())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "session analytics failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "archive_failed", "failed to compute analytics")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"analytics": a,
	})
}

func (s *Server) archiveReady(w http.ResponseWriter) bool {
	if s.archives != nil {
		return true
	}
	respondJSON(w, http.StatusServiceUnavailable, errorResponse{
		Error: "session archive not configured",
		Code:  "archive_unavailable",
	})
	return false
}
