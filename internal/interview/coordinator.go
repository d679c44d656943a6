package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fortitwin/interviewd/internal/auth"
	"github.com/fortitwin/interviewd/internal/inference"
	"github.com/fortitwin/interviewd/internal/observability"
	"github.com/fortitwin/interviewd/internal/session"
)

// FallbackReply is appended in place of an assistant turn when the
// inference backend fails. The interview keeps going; the candidate never
// sees a hard failure because the AI backend hiccuped.
const FallbackReply = "My apologies, I am experiencing a technical issue. Please try again."

// Finalizer commits a finished interview and returns a report id.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID, candidateID string, transcript []session.Turn) (string, error)
}

// Coordinator owns the interview state machine: join/leave semantics,
// per-session message ordering and end-of-interview finalization. All
// session mutation goes through it.
type Coordinator struct {
	store     *session.Store
	gateway   inference.Client
	finalizer Finalizer
	metrics   *observability.Metrics
	greeting  string
}

func New(store *session.Store, gateway inference.Client, finalizer Finalizer, metrics *observability.Metrics, greeting string) *Coordinator {
	return &Coordinator{
		store:     store,
		gateway:   gateway,
		finalizer: finalizer,
		metrics:   metrics,
		greeting:  greeting,
	}
}

// Join attaches a connection to the interview, creating the session on
// first join, and returns the transcript as the caller's initial view.
func (c *Coordinator) Join(sessionID string, identity auth.Identity) ([]session.Turn, error) {
	s, created, err := c.store.GetOrCreate(sessionID, identity.ID, c.greeting)
	if err != nil {
		return nil, err
	}
	s.Attach()
	if created {
		log.Printf("session %s: created for candidate %s", sessionID, identity.ID)
		c.metrics.SessionEvents.WithLabelValues("created").Inc()
	} else {
		c.metrics.SessionEvents.WithLabelValues("rejoined").Inc()
	}
	c.metrics.ActiveSessions.Set(float64(c.store.ActiveCount()))
	return s.Transcript(), nil
}

// History returns the current transcript without attaching. Used when a
// connection re-joins a session it is already attached to.
func (c *Coordinator) History(sessionID string) ([]session.Turn, error) {
	s, err := c.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Transcript(), nil
}

// Leave detaches a connection. The session survives; only the janitor
// reaps abandoned interviews.
func (c *Coordinator) Leave(sessionID string) {
	s, err := c.store.Get(sessionID)
	if err != nil {
		return
	}
	s.Detach()
}

// Submit appends the candidate turn, obtains the assistant reply and
// appends it. Concurrent submissions for one session queue in arrival
// order behind the session's submit lock; different sessions proceed in
// parallel. A gateway failure is absorbed into a single fallback turn.
func (c *Coordinator) Submit(ctx context.Context, sessionID, text string) (session.Turn, error) {
	s, err := c.store.Get(sessionID)
	if err != nil {
		return session.Turn{}, err
	}

	s.LockSubmit()
	defer s.UnlockSubmit()

	if _, err := s.Append(session.RoleUser, text); err != nil {
		return session.Turn{}, err
	}

	// The gateway call survives a client disconnect: the reply still
	// belongs in the transcript so a later rejoin sees it.
	start := time.Now()
	reply, err := c.gateway.GenerateReply(context.WithoutCancel(ctx), s.Transcript())
	c.metrics.ObserveReplyLatency(time.Since(start))
	if err != nil {
		code := "error"
		if errors.Is(err, inference.ErrTimeout) {
			code = "timeout"
		}
		c.metrics.GatewayErrors.WithLabelValues(code).Inc()
		log.Printf("session %s: inference failed (%s): %v", sessionID, code, err)
		reply = FallbackReply
	}

	// Cannot fail: End also requires the submit lock, so the session is
	// still active here.
	turn, err := s.Append(session.RoleAssistant, reply)
	if err != nil {
		return session.Turn{}, err
	}
	return turn, nil
}

// End finalizes an active interview: active -> ending, persist, ending ->
// closed, remove. If the finalizer fails nothing was committed, so the
// session reopens and the caller may retry.
func (c *Coordinator) End(ctx context.Context, sessionID string) (string, error) {
	s, err := c.store.Get(sessionID)
	if err != nil {
		return "", err
	}

	// Queue behind any in-flight submission so no turn lands after the
	// transition to ending.
	s.LockSubmit()
	defer s.UnlockSubmit()

	if err := s.BeginEnd(); err != nil {
		return "", err
	}

	reportID, err := c.finalizer.Finalize(context.WithoutCancel(ctx), s.ID, s.CandidateID(), s.Transcript())
	if err != nil {
		if reopenErr := s.Reopen(); reopenErr != nil {
			log.Printf("session %s: reopen after failed finalize: %v", sessionID, reopenErr)
		}
		c.metrics.SessionEvents.WithLabelValues("finalize_failed").Inc()
		return "", fmt.Errorf("finalize interview: %w", err)
	}

	if err := s.Close(); err != nil {
		log.Printf("session %s: close after finalize: %v", sessionID, err)
	}
	c.store.Remove(sessionID)
	c.metrics.SessionEvents.WithLabelValues("ended").Inc()
	c.metrics.ActiveSessions.Set(float64(c.store.ActiveCount()))
	log.Printf("session %s: ended, report %s", sessionID, reportID)
	return reportID, nil
}
