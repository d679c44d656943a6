package report

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process report store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports map[string]Report
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reports: make(map[string]Report)}
}

func (s *InMemoryStore) Save(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.reports[r.ID] = r
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, reportID string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[reportID]
	if !ok {
		return Report{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) Close() error { return nil }
