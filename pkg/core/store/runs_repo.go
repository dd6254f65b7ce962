package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dart_deepsearch/pkg/models"
)

// RunRepo stores one summary row per deep-search run. Envelope bodies
// stay out of the database; the cache layer owns document content.
type RunRepo struct{}

func NewRunRepo() *RunRepo {
	return &RunRepo{}
}

// RunSummary is one row of the search_runs table.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Query          string    `json:"query"`
	Attempts       int       `json:"attempts"`
	TotalDocuments int       `json:"total_documents"`
	Confidence     string    `json:"confidence"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Save upserts the summary of a finished run, keyed by run id.
//
// Schema assumption:
// CREATE TABLE IF NOT EXISTS search_runs (
//   run_id TEXT PRIMARY KEY,
//   query TEXT,
//   attempts INT,
//   total_documents INT,
//   confidence TEXT,
//   duration_ms BIGINT,
//   created_at TIMESTAMPTZ
// );
func (r *RunRepo) Save(ctx context.Context, env *models.Envelope) error {
	pool := GetPool()
	if pool == nil {
		return fmt.Errorf("database pool not initialized")
	}

	query := `
		INSERT INTO search_runs (run_id, query, attempts, total_documents, confidence, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id)
		DO UPDATE SET
			attempts = EXCLUDED.attempts,
			total_documents = EXCLUDED.total_documents,
			confidence = EXCLUDED.confidence,
			duration_ms = EXCLUDED.duration_ms;
	`

	_, err := pool.Exec(ctx, query,
		env.Telemetry.RunID, env.Query, env.Telemetry.Attempts,
		env.Summary.TotalDocuments, env.Summary.Confidence,
		env.Telemetry.DurationMS, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// Recent returns the latest run summaries, newest first.
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	pool := GetPool()
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := pool.Query(ctx, `
		SELECT run_id, query, attempts, total_documents, confidence, duration_ms, created_at
		FROM search_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.Query, &s.Attempts, &s.TotalDocuments,
			&s.Confidence, &s.DurationMS, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads one run summary by id.
func (r *RunRepo) Get(ctx context.Context, runID string) (*RunSummary, error) {
	pool := GetPool()
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	var s RunSummary
	err := pool.QueryRow(ctx, `
		SELECT run_id, query, attempts, total_documents, confidence, duration_ms, created_at
		FROM search_runs
		WHERE run_id = $1`, runID).
		Scan(&s.RunID, &s.Query, &s.Attempts, &s.TotalDocuments,
			&s.Confidence, &s.DurationMS, &s.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no run found for id %s", runID)
		}
		return nil, fmt.Errorf("failed to load run summary: %w", err)
	}
	return &s, nil
}
