// Package storage is the durable job store shared by the API service and the
// pipeline worker. All SQL lives here; callers see domain types and sentinel
// errors.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

const jobColumns = `
	id, tenant, source_url, status, content_class, ladder_profile,
	duration_seconds, reserved_bytes, used_bytes, artifact_prefix,
	hls_master_url, error_message, retry_count, created_at, updated_at
`

// Storage handles all database operations for short jobs.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// CreateJob inserts a new job row. The artifact prefix is derived from the
// tenant and id before insert so pathing is stable for the job's lifetime.
func (s *Storage) CreateJob(ctx context.Context, job *shorts.Job) error {
	if job.ArtifactPrefix == "" {
		job.ArtifactPrefix = shorts.ArtifactPrefixFor(job.Tenant, job.ID)
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO short_jobs (
			id, tenant, source_url, status, content_class, ladder_profile,
			artifact_prefix, created_at, updated_at
		) VALUES (
			:id, :tenant, :source_url, :status, :content_class, :ladder_profile,
			:artifact_prefix, :created_at, :updated_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by its id.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*shorts.Job, error) {
	var job shorts.Job
	query := `SELECT ` + jobColumns + ` FROM short_jobs WHERE id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shorts.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	Tenant   string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset-pagination position (created_at, id) descending.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs matching the filter; the caller uses
// the extra row to decide whether a next cursor exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]shorts.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM short_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Tenant != "" {
		query += fmt.Sprintf(" AND tenant = $%d", argIdx)
		args = append(args, filter.Tenant)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []shorts.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob moves a queued job to downloading so exactly one worker processes
// it. A job that is already in flight, ready, or deleted is not claimable and
// the duplicate pickup is a safe no-op for the caller.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*shorts.Job, error) {
	query := `
		UPDATE short_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var job shorts.Job
	err := s.db.QueryRowxContext(ctx, query, shorts.StatusDownloading, jobID, shorts.StatusQueued).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - not in queued status",
				slog.String("job_id", jobID),
			)
			return nil, shorts.ErrJobNotClaimable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// SetStatus transitions a job's status.
func (s *Storage) SetStatus(ctx context.Context, jobID, status string) error {
	query := `UPDATE short_jobs SET status = $1, updated_at = NOW() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, status, jobID); err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return nil
}

// UpdateDuration records the probed duration for visibility even when later
// steps fail.
func (s *Storage) UpdateDuration(ctx context.Context, jobID string, seconds float64) error {
	query := `UPDATE short_jobs SET duration_seconds = $1, updated_at = NOW() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, seconds, jobID); err != nil {
		return fmt.Errorf("failed to update duration: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure: status, truncated error text, and a
// cleared reservation in one update.
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE short_jobs
		SET status = $1,
		    error_message = $2,
		    reserved_bytes = 0,
		    updated_at = NOW()
		WHERE id = $3
	`
	_, err := s.db.ExecContext(ctx, query, shorts.StatusFailed, shorts.TruncateError(errorMsg), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkReady converts the reservation to real usage and publishes the master
// URL, all in one update. Guarded on transcoding status so a duplicate
// publish cannot alter the accounting of an already-ready job.
func (s *Storage) MarkReady(ctx context.Context, jobID string, usedBytes int64, masterURL string) error {
	query := `
		UPDATE short_jobs
		SET status = $1,
		    used_bytes = $2,
		    reserved_bytes = 0,
		    hls_master_url = $3,
		    error_message = '',
		    updated_at = NOW()
		WHERE id = $4
		  AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query, shorts.StatusReady, usedBytes, masterURL, jobID, shorts.StatusTranscoding)
	if err != nil {
		return fmt.Errorf("failed to mark job ready: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shorts.ErrJobNotClaimable
	}
	return nil
}

// RetryJob re-queues a failed job: clears the error and bumps retry_count.
// Only failed jobs are retryable.
func (s *Storage) RetryJob(ctx context.Context, jobID string) (*shorts.Job, error) {
	query := `
		UPDATE short_jobs
		SET status = $1,
		    error_message = '',
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var job shorts.Job
	err := s.db.QueryRowxContext(ctx, query, shorts.StatusQueued, jobID, shorts.StatusFailed).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shorts.ErrJobNotClaimable
		}
		return nil, fmt.Errorf("failed to retry job: %w", err)
	}
	return &job, nil
}

// FindExisting looks for a non-deleted job for the same source video under
// the tenant: first a ready one, then one currently in flight. videoID is the
// normalized source id when resolvable; the exact URL is the fallback match.
func (s *Storage) FindExisting(ctx context.Context, tenant, videoID, sourceURL string) (*shorts.Job, error) {
	var (
		query string
		match string
	)
	if videoID != "" {
		match = "%" + videoID + "%"
		query = `
			SELECT ` + jobColumns + `
			FROM short_jobs
			WHERE tenant = $1
			  AND status != 'deleted'
			  AND source_url LIKE $2
			ORDER BY
			  CASE status WHEN 'ready' THEN 0 ELSE 1 END,
			  updated_at DESC
			LIMIT 1
		`
	} else {
		match = sourceURL
		query = `
			SELECT ` + jobColumns + `
			FROM short_jobs
			WHERE tenant = $1
			  AND status != 'deleted'
			  AND source_url = $2
			ORDER BY
			  CASE status WHEN 'ready' THEN 0 ELSE 1 END,
			  updated_at DESC
			LIMIT 1
		`
	}

	var job shorts.Job
	err := s.db.GetContext(ctx, &job, query, tenant, match)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shorts.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find existing job: %w", err)
	}

	// Only ready and in-flight jobs dedupe; a failed row does not block a
	// fresh import.
	if job.Status == shorts.StatusReady || job.InFlight() {
		return &job, nil
	}
	return nil, shorts.ErrJobNotFound
}

// ListReady returns the latest ready jobs for a tenant, newest first.
func (s *Storage) ListReady(ctx context.Context, tenant string, limit int) ([]shorts.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM short_jobs
		WHERE tenant = $1 AND status = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`
	var jobs []shorts.Job
	if err := s.db.SelectContext(ctx, &jobs, query, tenant, shorts.StatusReady, limit); err != nil {
		return nil, fmt.Errorf("failed to list ready jobs: %w", err)
	}
	return jobs, nil
}

// LatestReady returns the most recently published job for a tenant, or
// ErrJobNotFound.
func (s *Storage) LatestReady(ctx context.Context, tenant string) (*shorts.Job, error) {
	var job shorts.Job
	query := `
		SELECT ` + jobColumns + `
		FROM short_jobs
		WHERE tenant = $1 AND status = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`
	err := s.db.GetContext(ctx, &job, query, tenant, shorts.StatusReady)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shorts.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest ready job: %w", err)
	}
	return &job, nil
}
