// Package repo holds the PostgreSQL persistence adapters.
package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aistudio/internal/domain"
)

// JobRepositoryPG persists job status snapshots so status queries survive a
// process restart. It implements the orchestrator's Recorder contract.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// RecordStart inserts the initial snapshot for a freshly created job.
func (r *JobRepositoryPG) RecordStart(ctx context.Context, status domain.JobStatus) error {
	query := `
INSERT INTO jobs (id, kind, state, attempt, qa_iteration, artifact_url, error_kind, error_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		status.ID,
		status.Kind,
		status.State,
		status.Attempt,
		status.QAIteration,
		nullableText(status.ArtifactURL),
		nullableText(string(status.ErrorKind)),
		nullableText(status.ErrorReason),
		status.CreatedAt,
		status.UpdatedAt,
	)
	return err
}

// RecordUpdate overwrites the stored snapshot after a state transition.
func (r *JobRepositoryPG) RecordUpdate(ctx context.Context, status domain.JobStatus) error {
	query := `
UPDATE jobs
SET state = $2,
    attempt = $3,
    qa_iteration = $4,
    artifact_url = COALESCE($5, artifact_url),
    error_kind = COALESCE($6, error_kind),
    error_reason = COALESCE($7, error_reason),
    updated_at = $8
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query,
		status.ID,
		status.State,
		status.Attempt,
		status.QAIteration,
		nullableText(status.ArtifactURL),
		nullableText(string(status.ErrorKind)),
		nullableText(status.ErrorReason),
		status.UpdatedAt,
	)
	return err
}

// GetByID fetches the stored snapshot by job identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (domain.JobStatus, error) {
	query := `
SELECT id, kind, state, attempt, qa_iteration, COALESCE(artifact_url, ''), COALESCE(error_kind, ''), COALESCE(error_reason, ''), created_at, updated_at
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var status domain.JobStatus
	if err := row.Scan(
		&status.ID,
		&status.Kind,
		&status.State,
		&status.Attempt,
		&status.QAIteration,
		&status.ArtifactURL,
		&status.ErrorKind,
		&status.ErrorReason,
		&status.CreatedAt,
		&status.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobStatus{}, domain.ErrNotFound
		}
		return domain.JobStatus{}, err
	}
	return status, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
