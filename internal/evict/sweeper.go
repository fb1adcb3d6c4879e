// Package evict reclaims storage once usage crosses the low-water mark,
// deleting ready jobs in content-class priority order. Pinned content is
// never touched.
package evict

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ontimehq/shorts-pipeline/internal/capacity"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// sweepOrder is the fixed class priority for eviction. Pinned is absent on
// purpose.
var sweepOrder = []string{shorts.ClassEphemeral, shorts.ClassNormal, shorts.ClassPreferred}

// Store is the slice of the job store the sweeper drives.
type Store interface {
	GlobalTotals(ctx context.Context) (capacity.Totals, error)
	EvictionCandidates(ctx context.Context, contentClass string, limit int) ([]shorts.Job, error)
	MarkDeleted(ctx context.Context, jobID string) error
}

// Emitter re-publishes the metrics snapshot after a sweep.
type Emitter interface {
	Emit(ctx context.Context)
}

// Config holds sweeper tuning.
type Config struct {
	// LowWaterBytes is the usage level sweeping drives total usage down to.
	LowWaterBytes int64
	// MaxDeletionsPerRun bounds one sweep regardless of usage.
	MaxDeletionsPerRun int
	// Interval is the sweep cadence.
	Interval time.Duration
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.MaxDeletionsPerRun <= 0 {
		c.MaxDeletionsPerRun = 50
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
}

// Sweeper periodically reclaims artifact storage.
type Sweeper struct {
	cfg       Config
	store     Store
	metrics   Emitter
	mediaRoot string
	logger    *slog.Logger
}

// NewSweeper creates a sweeper deleting artifacts under mediaRoot.
func NewSweeper(cfg Config, store Store, metrics Emitter, mediaRoot string, logger *slog.Logger) *Sweeper {
	cfg.Defaults()
	return &Sweeper{cfg: cfg, store: store, metrics: metrics, mediaRoot: mediaRoot, logger: logger}
}

// Run sweeps on the configured cadence until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Eviction sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.String("low_water", humanize.IBytes(uint64(s.cfg.LowWaterBytes))),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Eviction sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep runs one eviction pass and returns the number of jobs deleted. It
// stops as soon as usage drops to the low-water mark, the per-run safety cap
// is reached, or no evictable jobs remain. The sweeper only ever sees ready
// jobs, so it cannot race in-flight production.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	totals, err := s.store.GlobalTotals(ctx)
	if err != nil {
		return 0, err
	}
	// Low-water compares committed usage only. In-flight reservations are
	// not reclaimable and must not trigger sweeps of ready jobs.
	usage := totals.UsedBytes
	if usage <= s.cfg.LowWaterBytes {
		return 0, nil
	}

	s.logger.Info("Usage above low-water mark, sweeping",
		slog.String("usage", humanize.IBytes(uint64(usage))),
		slog.String("low_water", humanize.IBytes(uint64(s.cfg.LowWaterBytes))),
	)

	deleted := 0
	for _, class := range sweepOrder {
		if usage <= s.cfg.LowWaterBytes || deleted >= s.cfg.MaxDeletionsPerRun {
			break
		}

		jobs, err := s.store.EvictionCandidates(ctx, class, s.cfg.MaxDeletionsPerRun-deleted)
		if err != nil {
			return deleted, err
		}

		for _, job := range jobs {
			if usage <= s.cfg.LowWaterBytes || deleted >= s.cfg.MaxDeletionsPerRun {
				break
			}

			s.removeArtifacts(job)

			if err := s.store.MarkDeleted(ctx, job.ID); err != nil {
				s.logger.Error("Failed to mark job deleted",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			usage -= job.UsedBytes
			deleted++

			s.logger.Info("Job evicted",
				slog.String("job_id", job.ID),
				slog.String("tenant", job.Tenant),
				slog.String("content_class", job.ContentClass),
				slog.String("freed", humanize.IBytes(uint64(job.UsedBytes))),
			)
		}
	}

	if deleted > 0 {
		s.metrics.Emit(ctx)
	}
	return deleted, nil
}

// removeArtifacts deletes the job's artifact directory. Best-effort: a
// failure is logged and the accounting update proceeds anyway so usage
// converges even with a flaky filesystem.
func (s *Sweeper) removeArtifacts(job shorts.Job) {
	if job.ArtifactPrefix == "" {
		return
	}
	dir := filepath.Join(s.mediaRoot, filepath.FromSlash(job.ArtifactPrefix))
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error("Failed to remove artifact directory",
			slog.String("job_id", job.ID),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}
