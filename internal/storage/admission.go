package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ontimehq/shorts-pipeline/internal/capacity"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// admissionLockKey is the advisory lock key all admission transactions take.
// Row locks alone cannot serialize admissions for different jobs, and under
// READ COMMITTED each transaction's aggregate misses the other's uncommitted
// reservation.
const admissionLockKey int64 = 0x73686f727473 // "shorts"

// ReserveCapacity implements the admission gate's transactional boundary: it
// takes a transaction-scoped advisory lock, locks the job row, re-aggregates
// used+reserved bytes globally and for the job's tenant under that lock, asks
// decide for the reservation, and writes reserved_bytes before committing.
// Concurrent reservations therefore serialize on the aggregate read, so a cap
// check only one of them should pass cannot pass for both.
func (s *Storage) ReserveCapacity(ctx context.Context, jobID string, decide func(global, tenant capacity.Totals) (int64, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock($1)`, admissionLockKey,
	); err != nil {
		return fmt.Errorf("failed to take admission lock: %w", err)
	}

	var tenant string
	err = tx.QueryRowContext(ctx,
		`SELECT tenant FROM short_jobs WHERE id = $1 FOR UPDATE`, jobID,
	).Scan(&tenant)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return shorts.ErrJobNotFound
		}
		return fmt.Errorf("failed to lock job row: %w", err)
	}

	global, err := aggregateTotals(ctx, tx, "")
	if err != nil {
		return err
	}
	tenantTotals, err := aggregateTotals(ctx, tx, tenant)
	if err != nil {
		return err
	}

	reserve, err := decide(global, tenantTotals)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE short_jobs SET reserved_bytes = $1, updated_at = NOW() WHERE id = $2`,
		reserve, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to write reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	s.logger.Debug("Reservation committed",
		slog.String("job_id", jobID),
		slog.Int64("reserved_bytes", reserve),
	)
	return nil
}

type txQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// aggregateTotals sums used and reserved bytes over all non-deleted jobs,
// optionally scoped to one tenant. The job row the caller holds FOR UPDATE is
// included: its reservation (zero before first admission) counts toward the
// projection the decide callback adds the estimate to.
func aggregateTotals(ctx context.Context, q txQuerier, tenant string) (capacity.Totals, error) {
	var t capacity.Totals
	var err error
	if tenant == "" {
		err = q.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(used_bytes), 0), COALESCE(SUM(reserved_bytes), 0)
			FROM short_jobs
			WHERE status != 'deleted'
		`).Scan(&t.UsedBytes, &t.ReservedBytes)
	} else {
		err = q.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(used_bytes), 0), COALESCE(SUM(reserved_bytes), 0)
			FROM short_jobs
			WHERE status != 'deleted' AND tenant = $1
		`, tenant).Scan(&t.UsedBytes, &t.ReservedBytes)
	}
	if err != nil {
		return capacity.Totals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return t, nil
}

// GlobalTotals returns the current used/reserved aggregate over all
// non-deleted jobs, outside any transaction. Used by metrics and eviction.
func (s *Storage) GlobalTotals(ctx context.Context) (capacity.Totals, error) {
	return aggregateTotals(ctx, s.db, "")
}

// TenantTotals returns the aggregate for one tenant.
func (s *Storage) TenantTotals(ctx context.Context, tenant string) (capacity.Totals, error) {
	return aggregateTotals(ctx, s.db, tenant)
}

// CountsByStatus returns the number of jobs per status.
func (s *Storage) CountsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM short_jobs GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}
	return counts, nil
}

// EvictionCandidates returns ready jobs of one content class, oldest updated
// first, up to limit.
func (s *Storage) EvictionCandidates(ctx context.Context, contentClass string, limit int) ([]shorts.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM short_jobs
		WHERE status = $1 AND content_class = $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	var jobs []shorts.Job
	if err := s.db.SelectContext(ctx, &jobs, query, shorts.StatusReady, contentClass, limit); err != nil {
		return nil, fmt.Errorf("failed to select eviction candidates: %w", err)
	}
	return jobs, nil
}

// MarkDeleted transitions an evicted job to deleted with zeroed byte
// accounting, leaving an auditable row.
func (s *Storage) MarkDeleted(ctx context.Context, jobID string) error {
	query := `
		UPDATE short_jobs
		SET status = $1,
		    used_bytes = 0,
		    reserved_bytes = 0,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`
	if _, err := s.db.ExecContext(ctx, query, shorts.StatusDeleted, jobID, shorts.StatusReady); err != nil {
		return fmt.Errorf("failed to mark job deleted: %w", err)
	}
	return nil
}
