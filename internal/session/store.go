package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL bounds how long an idle session survives in the live store.
const DefaultTTL = 24 * time.Hour

// Store persists live sessions. Data-path methods never return errors: a
// failed Save reports false, and a missing, expired or undecodable payload
// reads as nil.
type Store interface {
	Save(ctx context.Context, id string, s *Session) bool
	Get(ctx context.Context, id string) *Session
	// Delete is idempotent: removing an absent key reports true.
	Delete(ctx context.Context, id string) bool
	Ping(ctx context.Context) (time.Duration, error)
	Mode() string
	Close() error
}

func encodeSession(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("encode session: nil session")
	}
	out := s.Clone()
	if out.SchemaVersion == 0 {
		out.SchemaVersion = SchemaVersion
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return b, nil
}

func decodeSession(b []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("decode session: unsupported schema version %d", s.SchemaVersion)
	}
	if s.ID == "" || s.UserID == "" {
		return nil, fmt.Errorf("decode session: missing identity")
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return &s, nil
}
