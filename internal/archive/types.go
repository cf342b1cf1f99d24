package archive

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/antoniostano/tutord/internal/session"
)

// ErrNotFound is returned by Get when no record exists.
var ErrNotFound = errors.New("archived session not found")

// Record is the durable terminal state of a session. It never contains the
// conversation transcript.
type Record struct {
	UserID          string         `json:"user_id"`
	SessionID       string         `json:"session_id"`
	Config          session.Config `json:"config"`
	SystemPrompt    string         `json:"system_prompt,omitempty"`
	Length          int            `json:"length"`
	CreatedAt       time.Time      `json:"created_at"`
	EndedAt         time.Time      `json:"ended_at"`
	Summary         string         `json:"summary"`
	DurationMinutes float64        `json:"duration_minutes"`
}

// FromTerminal converts a terminated session's record into an archive row.
func FromTerminal(tr session.TerminalRecord) Record {
	r := Record{
		UserID:       tr.UserID,
		SessionID:    tr.SessionID,
		Config:       tr.Config,
		SystemPrompt: tr.SystemPrompt,
		Length:       tr.Length,
		CreatedAt:    tr.CreatedAt.UTC(),
	}
	if tr.EndedAt != nil {
		r.EndedAt = tr.EndedAt.UTC()
	} else {
		r.EndedAt = time.Now().UTC()
	}
	if tr.Summary != nil {
		r.Summary = *tr.Summary
	}
	r.DurationMinutes = roundMinutes(r.EndedAt.Sub(r.CreatedAt))
	return r
}

// Store persists terminal records keyed by (user_id, session_id).
type Store interface {
	// Save inserts or replaces the record.
	Save(ctx context.Context, r Record) error
	// ListByUser returns records newest first. limit <= 0 means all.
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	Get(ctx context.Context, userID, sessionID string) (Record, error)
	Delete(ctx context.Context, userID, sessionID string) error
	Analytics(ctx context.Context, userID string, now time.Time) (Analytics, error)
	Mode() string
	Close() error
}

func roundMinutes(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return math.Round(d.Minutes()*100) / 100
}
