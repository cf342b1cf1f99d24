package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local/dev use. Payloads go through
// the same JSON codec as Redis so both backends behave identically.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

func (s *MemoryStore) Mode() string { return "memory" }

func (s *MemoryStore) Save(ctx context.Context, id string, sess *Session) bool {
	payload, err := encodeSession(sess)
	if err != nil {
		s.logger.ErrorContext(ctx, "session encode failed", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{payload: payload, expiresAt: s.now().Add(s.ttl)}
	return true
}

func (s *MemoryStore) Get(ctx context.Context, id string) *Session {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.dropExpired(id, entry)
		return nil
	}
	sess, err := decodeSession(entry.payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "session payload corrupt", slog.String("session_id", id), slog.Any("error", err))
		return nil
	}
	return sess
}

// dropExpired removes id only if it still holds the expired entry seen by a
// reader. A Save that raced in between is kept.
func (s *MemoryStore) dropExpired(id string, seen memoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[id]
	if !ok || !current.expiresAt.Equal(seen.expiresAt) || s.now().Before(current.expiresAt) {
		return
	}
	delete(s.entries, id)
}

func (s *MemoryStore) Delete(_ context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return true
}

func (s *MemoryStore) Ping(context.Context) (time.Duration, error) { return 0, nil }

func (s *MemoryStore) Close() error { return nil }

