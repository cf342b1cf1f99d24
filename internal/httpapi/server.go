package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/tutord/internal/archive"
	"github.com/antoniostano/tutord/internal/config"
	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/prompt"
	"github.com/antoniostano/tutord/internal/session"
)

// Sessions is the lifecycle surface the HTTP layer drives.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (session.StartResult, error)
	SendMessage(ctx context.Context, sessionID, text string) (session.MessageResult, error)
	End(ctx context.Context, sessionID string) (session.EndResult, error)
	Lookup(ctx context.Context, sessionID string) (*session.Session, error)
	Ping(ctx context.Context) (time.Duration, error)
	StoreMode() string
}

type Server struct {
	cfg      config.Config
	sessions Sessions
	archives archive.Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New wires the router dependencies. archives may be nil, in which case the
// history endpoints answer 503.
func New(cfg config.Config, sessions Sessions, archives archive.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		archives: archives,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/tutor", func(r chi.Router) {
		r.Get("/cache-health", s.handleCacheHealth)
		r.Get("/personalities", s.handlePersonalities)

		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions/ws", s.handleSessionWS)
		r.Post("/sessions/{id}/messages", s.handleSendMessage)
		r.Post("/sessions/{id}/end", s.handleEndSession)

		r.Get("/users/{user_id}/sessions", s.handleListUserSessions)
		r.Get("/users/{user_id}/sessions/{id}", s.handleGetUserSession)
		r.Get("/users/{user_id}/analytics", s.handleUserAnalytics)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"session_store": s.sessions.StoreMode(),
		"archive_store": s.archiveMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"session_store": s.sessions.StoreMode(),
		"archive_store": s.archiveMode(),
	})
}

func (s *Server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	latency, err := s.sessions.Ping(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "unhealthy",
			"mode":   s.sessions.StoreMode(),
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"mode":       s.sessions.StoreMode(),
		"latency_ms": math.Round(float64(latency.Microseconds())/10) / 100,
	})
}

func (s *Server) handlePersonalities(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default":       session.DefaultPersonality,
		"personalities": prompt.Personalities(),
	})
}

func (s *Server) archiveMode() string {
	if s.archives == nil {
		return "disabled"
	}
	return s.archives.Mode()
}

// countRequests records one sample per response, labelled by route pattern
// so path parameters do not explode cardinality.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondSessionError maps a lifecycle error onto its status and code.
func respondSessionError(w http.ResponseWriter, err error) {
	var se *session.Error
	if !errors.As(err, &se) {
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	respondJSON(w, se.Kind.HTTPStatus(), errorResponse{
		Error:     se.Message,
		Code:      string(se.Kind),
		Retryable: se.Retryable(),
	})
}
