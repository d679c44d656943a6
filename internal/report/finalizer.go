package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fortitwin/interviewd/internal/session"
)

// Finalizer commits a finished interview to durable storage and yields
// the report identifier the client navigates to.
type Finalizer struct {
	store Store
}

func NewFinalizer(store Store) *Finalizer {
	return &Finalizer{store: store}
}

// Finalize persists the completed transcript. On failure nothing was
// committed and the caller may retry ending the interview.
func (f *Finalizer) Finalize(ctx context.Context, sessionID, candidateID string, transcript []session.Turn) (string, error) {
	r := Report{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		CandidateID: candidateID,
		Transcript:  transcript,
	}
	if err := f.store.Save(ctx, r); err != nil {
		return "", fmt.Errorf("persist report: %w", err)
	}
	return r.ID, nil
}

// Report loads a previously finalized report.
func (f *Finalizer) Report(ctx context.Context, reportID string) (Report, error) {
	return f.store.Get(ctx, reportID)
}
