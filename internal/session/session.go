package session

import (
	"errors"
	"sync"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnding Status = "ending"
	StatusClosed Status = "closed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrClosed       = errors.New("session closed")
	ErrInvalidState = errors.New("operation not valid in current session state")
)

// Turn is one role-tagged message in an interview transcript.
// Turns are immutable once appended.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session holds one interview's conversation state. The transcript is
// append-only and its order is the sole source of truth for the context
// sent to inference.
type Session struct {
	ID string

	mu           sync.Mutex
	submitMu     sync.Mutex
	candidateID  string
	status       Status
	transcript   []Turn
	attached     int
	startedAt    time.Time
	lastActivity time.Time
}

func newSession(id, candidateID, greeting string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		candidateID:  candidateID,
		status:       StatusActive,
		startedAt:    now,
		lastActivity: now,
	}
	s.transcript = append(s.transcript, Turn{
		Role:      RoleAssistant,
		Content:   greeting,
		CreatedAt: now,
	})
	return s
}

// LockSubmit serializes message submission and finalization for this
// session. Concurrent submitters queue in arrival order; an interview is
// single-threaded per candidate.
func (s *Session) LockSubmit()   { s.submitMu.Lock() }
func (s *Session) UnlockSubmit() { s.submitMu.Unlock() }

func (s *Session) CandidateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidateID
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Transcript returns a copy of the ordered transcript.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Append adds one turn to the transcript. Only an active session accepts
// new turns.
func (s *Session) Append(role, content string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return Turn{}, ErrInvalidState
	}
	turn := Turn{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.transcript = append(s.transcript, turn)
	s.lastActivity = turn.CreatedAt
	return turn, nil
}

// BeginEnd transitions active -> ending. No turn can land after this.
func (s *Session) BeginEnd() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return ErrInvalidState
	}
	s.status = StatusEnding
	s.lastActivity = time.Now().UTC()
	return nil
}

// Reopen transitions ending -> active after a failed finalize attempt so
// the caller can retry ending. This is the only backward transition.
func (s *Session) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusEnding {
		return ErrInvalidState
	}
	s.status = StatusActive
	s.lastActivity = time.Now().UTC()
	return nil
}

// Close transitions ending -> closed. Terminal.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusEnding {
		return ErrInvalidState
	}
	s.status = StatusClosed
	return nil
}

// expire force-closes a session regardless of state. Janitor only.
func (s *Session) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusClosed
}

// Attach records a live connection viewing this session.
func (s *Session) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
	s.lastActivity = time.Now().UTC()
}

// Detach records a connection leaving. The session itself survives
// disconnects; only the janitor reaps abandoned sessions.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached > 0 {
		s.attached--
	}
	s.lastActivity = time.Now().UTC()
}

func (s *Session) Attached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive || s.attached > 0 {
		return 0, false
	}
	return now.Sub(s.lastActivity), true
}
