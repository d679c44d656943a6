package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fortitwin/interviewd/internal/session"
)

// PostgresStore persists interview reports in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interview_reports (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			candidate_id TEXT NOT NULL,
			transcript JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_reports_session ON interview_reports (session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_reports_candidate ON interview_reports (candidate_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	transcript, err := json.Marshal(r.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO interview_reports (id, session_id, candidate_id, transcript, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID,
		r.SessionID,
		r.CandidateID,
		transcript,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, reportID string) (Report, error) {
	var (
		r          Report
		transcript []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, candidate_id, transcript, created_at
		 FROM interview_reports WHERE id=$1`,
		reportID,
	).Scan(&r.ID, &r.SessionID, &r.CandidateID, &transcript, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, fmt.Errorf("query report: %w", err)
	}

	if err := json.Unmarshal(transcript, &r.Transcript); err != nil {
		return Report{}, fmt.Errorf("decode transcript: %w", err)
	}
	if r.Transcript == nil {
		r.Transcript = []session.Turn{}
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
