package archive

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps records for local development and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]map[string]Record)}
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.items[r.UserID]
	if !ok {
		user = make(map[string]Record)
		s.items[r.UserID] = user
	}
	user[r.SessionID] = cloneRecord(r)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.items[userID]))
	for _, r := range s.items[userID] {
		out = append(out, cloneRecord(r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, userID, sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[userID][sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[userID], sessionID)
	return nil
}

func (s *InMemoryStore) Analytics(ctx context.Context, userID string, now time.Time) (Analytics, error) {
	records, err := s.ListByUser(ctx, userID, 0)
	if err != nil {
		return Analytics{}, err
	}
	return computeAnalytics(records, now), nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneRecord(r Record) Record {
	out := r
	if r.Config.Interests != nil {
		out.Config.Interests = append([]string(nil), r.Config.Interests...)
	}
	if r.Config.Goals != nil {
		out.Config.Goals = append([]string(nil), r.Config.Goals...)
	}
	return out
}
