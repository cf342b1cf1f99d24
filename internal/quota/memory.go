package quota

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[string]Account)}
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) Get(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	s.accounts[a.UserID] = a
	return nil
}

func (s *InMemoryStore) Provision(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[a.UserID]; ok {
		return existing, nil
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	s.accounts[a.UserID] = a
	return a, nil
}

func (s *InMemoryStore) Increment(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	a.SessionCount++
	a.UpdatedAt = at.UTC()
	s.accounts[userID] = a
	return nil
}

func (s *InMemoryStore) ResetAll(_ context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.accounts {
		a.SessionCount = 0
		a.UpdatedAt = at.UTC()
		s.accounts[id] = a
		n++
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }
