// Package publish promotes a finished ladder from scratch space into the
// public media root and finalizes the job's byte accounting.
package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
	"github.com/ontimehq/shorts-pipeline/internal/transcode"
)

// Store is the slice of the job store the publisher writes through.
type Store interface {
	MarkReady(ctx context.Context, jobID string, usedBytes int64, masterURL string) error
}

// Emitter re-emits the usage snapshot after a publish; failures never
// propagate.
type Emitter interface {
	Emit(ctx context.Context)
}

// Publisher atomically installs transcoded output under the media root.
type Publisher struct {
	mediaRoot string
	store     Store
	metrics   Emitter
	logger    *slog.Logger
}

// NewPublisher creates a publisher rooted at mediaRoot. The scratch space and
// media root must live on the same filesystem so the final rename is atomic.
func NewPublisher(mediaRoot string, store Store, metrics Emitter, logger *slog.Logger) *Publisher {
	return &Publisher{mediaRoot: mediaRoot, store: store, metrics: metrics, logger: logger}
}

// Publish moves ladderDir to the job's artifact path with a remove-then-move
// replace, measures the real footprint, and converts the reservation to usage
// while transitioning the job to ready in a single update.
func (p *Publisher) Publish(ctx context.Context, job *shorts.Job, ladderDir string) error {
	final := filepath.Join(p.mediaRoot, filepath.FromSlash(job.ArtifactPrefix))

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact parent: %w", err)
	}
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to clear artifact path: %w", err)
	}
	if err := os.Rename(ladderDir, final); err != nil {
		return fmt.Errorf("failed to promote artifact: %w", err)
	}

	used, err := dirSize(final)
	if err != nil {
		return fmt.Errorf("failed to measure artifact size: %w", err)
	}

	masterURL := "/" + job.ArtifactPrefix + "/" + transcode.MasterPlaylistName
	if err := p.store.MarkReady(ctx, job.ID, used, masterURL); err != nil {
		return err
	}
	job.Status = shorts.StatusReady
	job.UsedBytes = used
	job.ReservedBytes = 0
	job.HLSMasterURL = masterURL

	p.logger.Info("Artifact published",
		slog.String("job_id", job.ID),
		slog.String("tenant", job.Tenant),
		slog.String("used", humanize.IBytes(uint64(used))),
		slog.String("hls_master_url", masterURL),
	)

	p.metrics.Emit(ctx)
	return nil
}

// dirSize sums the size of every regular file under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
