package session

import (
	"context"
	"time"
)

// PromptBuilder renders the system prompt once per session, at creation.
type PromptBuilder interface {
	Build(cfg Config) string
}

// Completer produces the assistant reply. messages[0] is always the system
// prompt. Implementations enforce their own timeout.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Summarizer condenses the retained conversation at termination.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// QuotaGate approves session creation. An approval also schedules the usage
// increment.
type QuotaGate interface {
	CanStartSession(ctx context.Context, userID string) bool
}

// TerminalRecord is what survives a session: everything except the transcript.
type TerminalRecord struct {
	UserID       string     `json:"user_id"`
	SessionID    string     `json:"session_id"`
	Config       Config     `json:"config"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Length       int        `json:"length"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Summary      *string    `json:"summary,omitempty"`
}

// Archive durably keeps terminal records keyed by (user_id, session_id).
type Archive interface {
	Save(ctx context.Context, userID, sessionID string, record TerminalRecord) bool
}

// TerminalRecord strips the live message buffer.
func (s *Session) TerminalRecord() TerminalRecord {
	c := s.Clone()
	return TerminalRecord{
		UserID:       c.UserID,
		SessionID:    c.ID,
		Config:       c.Config,
		SystemPrompt: c.SystemPrompt,
		Length:       c.Length,
		IsActive:     c.IsActive,
		CreatedAt:    c.CreatedAt,
		EndedAt:      c.EndedAt,
		Summary:      c.Summary,
	}
}
