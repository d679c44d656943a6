package report

import (
	"context"
	"errors"
	"time"

	"github.com/fortitwin/interviewd/internal/session"
)

var ErrNotFound = errors.New("report not found")

// Report is the durable record of a finished interview.
type Report struct {
	ID          string         `json:"report_id"`
	SessionID   string         `json:"session_id"`
	CandidateID string         `json:"candidate_id"`
	Transcript  []session.Turn `json:"transcript"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store persists and retrieves completed interview reports.
type Store interface {
	Save(ctx context.Context, r Report) error
	Get(ctx context.Context, reportID string) (Report, error)
	Close() error
}
