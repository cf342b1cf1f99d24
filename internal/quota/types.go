package quota

import (
	"context"
	"errors"
	"time"
)

const DefaultMaxSessions = 20

// ErrNotFound is returned by Store.Get for unknown users.
var ErrNotFound = errors.New("quota account not found")

// Account tracks how many sessions a user has started in the current period.
type Account struct {
	UserID       string    `json:"user_id"`
	SessionCount int       `json:"session_count"`
	MaxSessions  int       `json:"max_sessions"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CanStart reports whether one more session fits, counting pending
// increments that have not reached the store yet.
func (a Account) CanStart(pending int) bool {
	return a.SessionCount+pending < a.MaxSessions
}

type Store interface {
	Get(ctx context.Context, userID string) (Account, error)
	Upsert(ctx context.Context, a Account) error
	// Provision creates a unless the user already has an account, and returns
	// whichever account is stored afterwards. Existing counts are never reset.
	Provision(ctx context.Context, a Account) (Account, error)
	// Increment adds one started session. Unknown users are an error.
	Increment(ctx context.Context, userID string, at time.Time) error
	// ResetAll zeroes every session count and returns the affected rows.
	ResetAll(ctx context.Context, at time.Time) (int64, error)
	Mode() string
	Close() error
}
