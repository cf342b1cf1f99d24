package archive

import (
	"context"
	"log/slog"

	"github.com/antoniostano/tutord/internal/session"
)

// Sink adapts a Store to the lifecycle's boolean archive contract. Errors
// are logged and reported as false.
type Sink struct {
	store  Store
	logger *slog.Logger
}

func NewSink(store Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, logger: logger}
}

func (s *Sink) Save(ctx context.Context, userID, sessionID string, tr session.TerminalRecord) bool {
	tr.UserID = userID
	tr.SessionID = sessionID
	rec := FromTerminal(tr)
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "archive save failed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.String("backend", s.store.Mode()),
			slog.Any("error", err))
		return false
	}
	s.logger.InfoContext(ctx, "session summary archived",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID))
	return true
}
