package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortitwin/interviewd/internal/auth"
	"github.com/fortitwin/interviewd/internal/inference"
	"github.com/fortitwin/interviewd/internal/observability"
	"github.com/fortitwin/interviewd/internal/protocol"
	"github.com/fortitwin/interviewd/internal/session"
)

type scriptedGateway struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	err     error
	replyFn func(transcript []session.Turn) string
}

func (g *scriptedGateway) GenerateReply(ctx context.Context, transcript []session.Turn) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return "", g.err
	}
	if g.replyFn != nil {
		return g.replyFn(transcript), nil
	}
	return fmt.Sprintf("question %d", n), nil
}

type scriptedFinalizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *scriptedFinalizer) Finalize(ctx context.Context, sessionID, candidateID string, transcript []session.Turn) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "report-" + sessionID, nil
}

var metricsSeq atomic.Int64

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics(fmt.Sprintf("test_interview_%d", metricsSeq.Add(1)))
}

func newTestCoordinator(t *testing.T, gw inference.Client, fin Finalizer) (*Coordinator, *session.Store) {
	t.Helper()
	store := session.NewStore(0)
	return New(store, gw, fin, testMetrics(t), "Hello, I am your interviewer."), store
}

var candidate = auth.Identity{ID: "cand-1", Email: "c@example.com", Role: "STUDENT"}

func TestJoinCreatesAndReturnsHistory(t *testing.T) {
	c, _ := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})

	turns, err := c.Join("iv-1", candidate)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Role != session.RoleAssistant {
		t.Fatalf("initial history = %+v, want single assistant greeting", turns)
	}

	again, err := c.Join("iv-1", auth.Identity{ID: "observer"})
	if err != nil {
		t.Fatalf("rejoin error = %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("rejoin history length = %d, want 1 (no reseed)", len(again))
	}
}

func TestSubmitAppendsUserThenAssistant(t *testing.T) {
	c, store := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	turn, err := c.Submit(context.Background(), "iv-1", "I have 5 years experience")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if turn.Role != session.RoleAssistant || turn.Content != "question 1" {
		t.Fatalf("unexpected reply turn: %+v", turn)
	}

	s, err := store.Get("iv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	transcript := s.Transcript()
	if len(transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(transcript))
	}
	if transcript[1].Role != session.RoleUser || transcript[1].Content != "I have 5 years experience" {
		t.Fatalf("user turn = %+v", transcript[1])
	}
}

func TestSubmitUnknownSessionFails(t *testing.T) {
	c, _ := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})
	if _, err := c.Submit(context.Background(), "nope", "hi"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Submit() error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentSubmitsKeepAlternatingOrder(t *testing.T) {
	gw := &scriptedGateway{delay: 5 * time.Millisecond}
	c, store := newTestCoordinator(t, gw, &scriptedFinalizer{})
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Submit(context.Background(), "iv-1", fmt.Sprintf("answer %d", i)); err != nil {
				t.Errorf("Submit() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	s, _ := store.Get("iv-1")
	transcript := s.Transcript()
	if len(transcript) != 1+2*n {
		t.Fatalf("transcript length = %d, want %d", len(transcript), 1+2*n)
	}
	// After the greeting, turns must strictly alternate user/assistant:
	// a submission's reply always lands before the next submission's
	// user turn.
	for i := 1; i < len(transcript); i++ {
		want := session.RoleUser
		if i%2 == 0 {
			want = session.RoleAssistant
		}
		if transcript[i].Role != want {
			t.Fatalf("turn %d role = %q, want %q", i, transcript[i].Role, want)
		}
	}
}

func TestSubmitGatewayFailureAppendsOneFallback(t *testing.T) {
	gw := &scriptedGateway{err: fmt.Errorf("%w: no reply in 60s", inference.ErrTimeout)}
	c, store := newTestCoordinator(t, gw, &scriptedFinalizer{})
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	turn, err := c.Submit(context.Background(), "iv-1", "hello?")
	if err != nil {
		t.Fatalf("Submit() error = %v, gateway failures must not surface", err)
	}
	if turn.Content != FallbackReply {
		t.Fatalf("reply = %q, want fallback", turn.Content)
	}

	s, _ := store.Get("iv-1")
	if s.Status() != session.StatusActive {
		t.Fatalf("Status = %q, want active after gateway failure", s.Status())
	}
	fallbacks := 0
	for _, tn := range s.Transcript() {
		if tn.Content == FallbackReply {
			fallbacks++
		}
	}
	if fallbacks != 1 {
		t.Fatalf("fallback turns = %d, want exactly 1", fallbacks)
	}
}

func TestEndFinalizesClosesAndRemoves(t *testing.T) {
	fin := &scriptedFinalizer{}
	c, store := newTestCoordinator(t, &scriptedGateway{}, fin)
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	reportID, err := c.End(context.Background(), "iv-1")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if reportID == "" {
		t.Fatalf("report id should not be empty")
	}
	if _, err := store.Get("iv-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get() after end error = %v, want ErrNotFound", err)
	}

	// The id is reusable for a brand-new interview.
	turns, err := c.Join("iv-1", candidate)
	if err != nil {
		t.Fatalf("Join() after end error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("fresh history length = %d, want 1", len(turns))
	}
}

func TestEndFinalizerFailureReopensSession(t *testing.T) {
	fin := &scriptedFinalizer{err: errors.New("db unavailable")}
	c, store := newTestCoordinator(t, &scriptedGateway{}, fin)
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := c.Submit(context.Background(), "iv-1", "answer"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	s, _ := store.Get("iv-1")
	before := s.Transcript()

	if _, err := c.End(context.Background(), "iv-1"); err == nil {
		t.Fatalf("End() should surface finalize failure")
	}

	s, err := store.Get("iv-1")
	if err != nil {
		t.Fatalf("session removed after failed finalize: %v", err)
	}
	if s.Status() != session.StatusActive {
		t.Fatalf("Status = %q, want active for retry", s.Status())
	}
	after := s.Transcript()
	if len(after) != len(before) {
		t.Fatalf("transcript length changed across failed end: %d -> %d", len(before), len(after))
	}

	// Retry with a healthy finalizer.
	fin.err = nil
	if _, err := c.End(context.Background(), "iv-1"); err != nil {
		t.Fatalf("End() retry error = %v", err)
	}
}

func TestEndTwiceFails(t *testing.T) {
	c, _ := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := c.End(context.Background(), "iv-1"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := c.End(context.Background(), "iv-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second End() error = %v, want ErrNotFound", err)
	}
}

func TestSubmitAfterEndIsInvalid(t *testing.T) {
	blockFin := make(chan struct{})
	fin := &blockingFinalizer{release: blockFin}
	c, store := newTestCoordinator(t, &scriptedGateway{}, fin)
	if _, err := c.Join("iv-1", candidate); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	endDone := make(chan error, 1)
	go func() {
		_, err := c.End(context.Background(), "iv-1")
		endDone <- err
	}()

	// Wait until the session reaches ending.
	s, _ := store.Get("iv-1")
	deadline := time.Now().Add(time.Second)
	for s.Status() != session.StatusEnding {
		if time.Now().After(deadline) {
			t.Fatalf("session never reached ending")
		}
		time.Sleep(time.Millisecond)
	}
	before := len(s.Transcript())

	// Append directly: a submission racing the end must not land a turn.
	if _, err := s.Append(session.RoleUser, "late answer"); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("Append() while ending error = %v, want ErrInvalidState", err)
	}
	if got := len(s.Transcript()); got != before {
		t.Fatalf("transcript grew while ending: %d -> %d", before, got)
	}

	close(blockFin)
	if err := <-endDone; err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := c.Submit(context.Background(), "iv-1", "too late"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Submit() after close error = %v, want ErrNotFound", err)
	}
}

type blockingFinalizer struct {
	release <-chan struct{}
}

func (f *blockingFinalizer) Finalize(ctx context.Context, sessionID, candidateID string, transcript []session.Turn) (string, error) {
	<-f.release
	return "report-" + sessionID, nil
}

func TestRunConnectionFullFlow(t *testing.T) {
	c, _ := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 8)
	outbound := make(chan any, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunConnection(ctx, candidate, inbound, outbound)
	}()

	recv := func() any {
		t.Helper()
		select {
		case msg := <-outbound:
			return msg
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for outbound event")
			return nil
		}
	}

	inbound <- protocol.JoinInterview{Type: protocol.TypeJoin, SessionID: "iv-1"}
	history, ok := recv().(protocol.History)
	if !ok || len(history.Turns) != 1 {
		t.Fatalf("expected single-turn history, got %+v", history)
	}

	inbound <- protocol.CandidateMessage{Type: protocol.TypeMessage, SessionID: "iv-1", Text: "my answer"}
	reply, ok := recv().(protocol.Reply)
	if !ok || reply.Turn.Role != session.RoleAssistant {
		t.Fatalf("expected assistant reply, got %+v", reply)
	}

	inbound <- protocol.EndInterview{Type: protocol.TypeEnd, SessionID: "iv-1"}
	ended, ok := recv().(protocol.Ended)
	if !ok || ended.ReportID == "" {
		t.Fatalf("expected ended event with report id, got %+v", ended)
	}

	// Anything after close is NotFound on non-join operations.
	inbound <- protocol.CandidateMessage{Type: protocol.TypeMessage, SessionID: "iv-1", Text: "hello?"}
	errEvt, ok := recv().(protocol.ErrorEvent)
	if !ok || errEvt.Code != "session_not_found" {
		t.Fatalf("expected session_not_found error, got %+v", errEvt)
	}

	close(inbound)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunConnection did not exit on closed inbound")
	}
}

func TestRunConnectionDetachesOnExit(t *testing.T) {
	c, store := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})

	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan any, 1)
	outbound := make(chan any, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunConnection(ctx, candidate, inbound, outbound)
	}()

	inbound <- protocol.JoinInterview{Type: protocol.TypeJoin, SessionID: "iv-1"}
	select {
	case <-outbound:
	case <-time.After(time.Second):
		t.Fatalf("no history event")
	}

	s, _ := store.Get("iv-1")
	if s.Attached() != 1 {
		t.Fatalf("Attached = %d, want 1", s.Attached())
	}

	cancel()
	<-done
	if s.Attached() != 0 {
		t.Fatalf("Attached after disconnect = %d, want 0", s.Attached())
	}
}

func TestRunConnectionDuplicateJoinAttachesOnce(t *testing.T) {
	c, store := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})

	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan any, 2)
	outbound := make(chan any, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunConnection(ctx, candidate, inbound, outbound)
	}()

	recv := func() any {
		t.Helper()
		select {
		case msg := <-outbound:
			return msg
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for outbound event")
			return nil
		}
	}

	// A client refresh re-sends join over the same connection. It must
	// still get history, but not count as a second participant.
	inbound <- protocol.JoinInterview{Type: protocol.TypeJoin, SessionID: "iv-1"}
	if _, ok := recv().(protocol.History); !ok {
		t.Fatalf("no history for first join")
	}
	inbound <- protocol.JoinInterview{Type: protocol.TypeJoin, SessionID: "iv-1"}
	history, ok := recv().(protocol.History)
	if !ok || len(history.Turns) != 1 {
		t.Fatalf("repeat join history = %+v, want single greeting", history)
	}

	s, _ := store.Get("iv-1")
	if s.Attached() != 1 {
		t.Fatalf("Attached after repeat join = %d, want 1", s.Attached())
	}

	cancel()
	<-done
	if s.Attached() != 0 {
		t.Fatalf("Attached after disconnect = %d, want 0 (session would never be evicted)", s.Attached())
	}
}

func TestRunConnectionDetachesEveryJoinedSession(t *testing.T) {
	c, store := newTestCoordinator(t, &scriptedGateway{}, &scriptedFinalizer{})

	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan any, 4)
	outbound := make(chan any, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunConnection(ctx, candidate, inbound, outbound)
	}()

	recv := func() any {
		t.Helper()
		select {
		case msg := <-outbound:
			return msg
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for outbound event")
			return nil
		}
	}

	inbound <- protocol.JoinInterview{Type: protocol.TypeJoin, SessionID: "iv-1"}
	if _, ok := recv().(protocol.History); !ok {
		t.Fatalf("no history for iv-1")
	}
	inbound <- protocol.JoinInterview{Type: protocol.TypeJoin, SessionID: "iv-2"}
	if _, ok := recv().(protocol.History); !ok {
		t.Fatalf("no history for iv-2")
	}

	// Ending one interview must not leak the attach on the other.
	inbound <- protocol.EndInterview{Type: protocol.TypeEnd, SessionID: "iv-2"}
	if _, ok := recv().(protocol.Ended); !ok {
		t.Fatalf("no ended event for iv-2")
	}

	s, _ := store.Get("iv-1")
	if s.Attached() != 1 {
		t.Fatalf("Attached = %d, want 1", s.Attached())
	}

	cancel()
	<-done
	if s.Attached() != 0 {
		t.Fatalf("Attached after disconnect = %d, want 0", s.Attached())
	}
}
