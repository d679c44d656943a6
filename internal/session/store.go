package session

import (
	"context"
	"sync"
	"time"
)

// Store is the in-memory map from interview id to live session state.
// Nothing here survives a restart; durable history is the report
// finalizer's job.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onEvict     func(*Session)
}

// NewStore creates a store. idleTimeout bounds how long an active session
// with no attached connections is kept; zero disables eviction.
func NewStore(idleTimeout time.Duration) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

func (st *Store) SetEvictHook(hook func(*Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onEvict = hook
}

// GetOrCreate returns the session for id, creating it at most once. A new
// session is seeded with a single opening assistant turn and bound to
// candidateID. Rejoining an existing id reattaches rather than resets.
func (st *Store) GetOrCreate(id, candidateID, greeting string) (*Session, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		if s.Status() == StatusClosed {
			return nil, false, ErrClosed
		}
		return s, false, nil
	}
	s := newSession(id, candidateID, greeting)
	st.sessions[id] = s
	return s, true, nil
}

func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes the session. Subsequent Gets fail with ErrNotFound and a
// later join under the same id starts a brand-new interview.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *Store) ActiveCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	count := 0
	for _, s := range st.sessions {
		if s.Status() == StatusActive {
			count++
		}
	}
	return count
}

// StartJanitor periodically evicts active sessions that have had no
// attached connections for longer than the idle timeout.
func (st *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if st.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.evictIdle()
			}
		}
	}()
}

func (st *Store) evictIdle() {
	now := time.Now().UTC()

	st.mu.Lock()
	var evicted []*Session
	for id, s := range st.sessions {
		idle, ok := s.idleSince(now)
		if !ok || idle < st.idleTimeout {
			continue
		}
		// Skip sessions with a submit in flight; they are not idle.
		if !s.submitMu.TryLock() {
			continue
		}
		s.expire()
		s.submitMu.Unlock()
		delete(st.sessions, id)
		evicted = append(evicted, s)
	}
	hook := st.onEvict
	st.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
}
