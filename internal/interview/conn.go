package interview

import (
	"context"
	"errors"

	"github.com/fortitwin/interviewd/internal/auth"
	"github.com/fortitwin/interviewd/internal/protocol"
	"github.com/fortitwin/interviewd/internal/session"
)

// RunConnection drives one authenticated connection: it consumes parsed
// client events from inbound and emits protocol events on outbound. The
// coordinator is the single writer to outbound for this connection.
func (c *Coordinator) RunConnection(ctx context.Context, identity auth.Identity, inbound <-chan any, outbound chan<- any) {
	// Each session this connection attached to gets exactly one Attach,
	// balanced by one Leave on exit. A re-join of the same id must not
	// attach again or the janitor would count a phantom participant.
	attached := make(map[string]struct{})
	defer func() {
		for id := range attached {
			c.Leave(id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.JoinInterview:
				var turns []session.Turn
				var err error
				if _, ok := attached[m.SessionID]; ok {
					turns, err = c.History(m.SessionID)
				} else {
					turns, err = c.Join(m.SessionID, identity)
				}
				if err != nil {
					emit(ctx, outbound, errorEvent(m.SessionID, err))
					continue
				}
				attached[m.SessionID] = struct{}{}
				emit(ctx, outbound, protocol.History{
					Type:      protocol.TypeHistory,
					SessionID: m.SessionID,
					Turns:     turns,
				})
			case protocol.CandidateMessage:
				turn, err := c.Submit(ctx, m.SessionID, m.Text)
				if err != nil {
					emit(ctx, outbound, errorEvent(m.SessionID, err))
					continue
				}
				emit(ctx, outbound, protocol.Reply{
					Type:      protocol.TypeReply,
					SessionID: m.SessionID,
					Turn:      turn,
				})
			case protocol.EndInterview:
				reportID, err := c.End(ctx, m.SessionID)
				if err != nil {
					emit(ctx, outbound, errorEvent(m.SessionID, err))
					continue
				}
				// The ended session is gone from the store; nothing
				// left to detach from.
				delete(attached, m.SessionID)
				emit(ctx, outbound, protocol.Ended{
					Type:      protocol.TypeEnded,
					SessionID: m.SessionID,
					ReportID:  reportID,
				})
			}
		}
	}
}

func emit(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func errorEvent(sessionID string, err error) protocol.ErrorEvent {
	evt := protocol.ErrorEvent{
		Type:      protocol.TypeError,
		SessionID: sessionID,
		Detail:    err.Error(),
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		evt.Code = "session_not_found"
	case errors.Is(err, session.ErrClosed):
		evt.Code = "session_closed"
	case errors.Is(err, session.ErrInvalidState):
		evt.Code = "invalid_state"
	default:
		// Finalize failures: nothing was committed, the caller should
		// try ending again.
		evt.Code = "finalize_failed"
		evt.Retryable = true
	}
	return evt
}
