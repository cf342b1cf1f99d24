package session

import (
	"errors"
	"strings"
	"time"
)

// SchemaVersion is stamped on every stored session payload.
const SchemaVersion = 1

const (
	DefaultMaxLength = 100
	DefaultWindow    = 20
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation buffer.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Config is the teaching context captured at creation time. It never changes
// for the lifetime of a session.
type Config struct {
	Personality    string   `json:"personality"`
	Language       string   `json:"language"`
	Subject        string   `json:"subject,omitempty"`
	Level          string   `json:"level,omitempty"`
	Exam           string   `json:"exam,omitempty"`
	Interests      []string `json:"interests,omitempty"`
	Goals          []string `json:"goals,omitempty"`
	LectureNotes   string   `json:"lecture_notes,omitempty"`
	LectureSubject string   `json:"lecture_subject,omitempty"`
	LectureChapter string   `json:"lecture_chapter,omitempty"`
}

// Session is the serializable record of one tutoring conversation.
type Session struct {
	SchemaVersion int        `json:"schema_version"`
	ID            string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	Config        Config     `json:"config"`
	SystemPrompt  string     `json:"system_prompt"`
	Messages      []Message  `json:"messages"`
	Length        int        `json:"length"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Summary       *string    `json:"summary,omitempty"`
}

var (
	errMissingUserID      = errors.New("user_id is required")
	errMissingPersonality = errors.New("personality is required")
	errMissingLanguage    = errors.New("language is required")
	errMissingSessionID   = errors.New("session_id is required")
)

// New builds an active session with an empty conversation buffer. The system
// prompt must already be rendered; it is stored verbatim.
func New(userID, sessionID string, cfg Config, systemPrompt string, now time.Time) (*Session, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return nil, errMissingUserID
	case strings.TrimSpace(cfg.Personality) == "":
		return nil, errMissingPersonality
	case strings.TrimSpace(cfg.Language) == "":
		return nil, errMissingLanguage
	case strings.TrimSpace(sessionID) == "":
		return nil, errMissingSessionID
	}
	return &Session{
		SchemaVersion: SchemaVersion,
		ID:            sessionID,
		UserID:        userID,
		Config:        cfg.clone(),
		SystemPrompt:  systemPrompt,
		Messages:      []Message{},
		IsActive:      true,
		CreatedAt:     now.UTC(),
	}, nil
}

// AppendMessage adds a message and drops the oldest entries so that at most
// window messages remain.
func (s *Session) AppendMessage(role Role, content string, window int) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	if window > 0 && len(s.Messages) > window {
		trimmed := make([]Message, window)
		copy(trimmed, s.Messages[len(s.Messages)-window:])
		s.Messages = trimmed
	}
}

// ModelContext returns the messages sent to the model: the stored system
// prompt first, then the retained window.
func (s *Session) ModelContext() []Message {
	out := make([]Message, 0, len(s.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: s.SystemPrompt})
	out = append(out, s.Messages...)
	return out
}

// Terminate moves the session into its absorbing ended state.
func (s *Session) Terminate(now time.Time, summary string) {
	ended := now.UTC()
	s.IsActive = false
	s.EndedAt = &ended
	s.Summary = &summary
}

// Validate reports whether the lifecycle invariants hold.
func (s *Session) Validate() error {
	if s.Length%2 != 0 {
		return errors.New("length must be even")
	}
	if s.IsActive != (s.EndedAt == nil) || s.IsActive != (s.Summary == nil) {
		return errors.New("is_active, ended_at and summary disagree")
	}
	return nil
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Config = s.Config.clone()
	c.Messages = append([]Message(nil), s.Messages...)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.Summary != nil {
		v := *s.Summary
		c.Summary = &v
	}
	return &c
}

func (c Config) clone() Config {
	out := c
	if c.Interests != nil {
		out.Interests = append([]string(nil), c.Interests...)
	}
	if c.Goals != nil {
		out.Goals = append([]string(nil), c.Goals...)
	}
	return out
}

// StartRequest is the caller-supplied input for creating a session.
type StartRequest struct {
	UserID         string   `json:"user_id"`
	Personality    string   `json:"personality"`
	Language       string   `json:"language"`
	Subject        string   `json:"subject,omitempty"`
	Level          string   `json:"level,omitempty"`
	Exam           string   `json:"exam,omitempty"`
	Interests      []string `json:"interests,omitempty"`
	Goals          []string `json:"goals,omitempty"`
	LectureNotes   string   `json:"lecture_notes,omitempty"`
	LectureSubject string   `json:"lecture_subject,omitempty"`
	LectureChapter string   `json:"lecture_chapter,omitempty"`
}

func (r StartRequest) config() Config {
	return Config{
		Personality:    strings.TrimSpace(r.Personality),
		Language:       strings.TrimSpace(r.Language),
		Subject:        r.Subject,
		Level:          r.Level,
		Exam:           r.Exam,
		Interests:      r.Interests,
		Goals:          r.Goals,
		LectureNotes:   r.LectureNotes,
		LectureSubject: r.LectureSubject,
		LectureChapter: r.LectureChapter,
	}
}

// StartResult returns the new session id and a preview of its prompt.
type StartResult struct {
	SessionID     string `json:"session_id"`
	PromptPreview string `json:"system_prompt"`
}

// MessageResult is the outcome of one exchange.
type MessageResult struct {
	Reply        string `json:"ai_response"`
	Active       bool   `json:"session_active"`
	MessageCount int    `json:"message_count"`
}

// EndResult is returned by an explicit end.
type EndResult struct {
	Success       bool   `json:"success"`
	Summary       string `json:"summary"`
	TotalMessages int    `json:"total_messages"`
}
