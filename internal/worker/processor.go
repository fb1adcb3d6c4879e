package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ontimehq/shorts-pipeline/internal/fetch"
	"github.com/ontimehq/shorts-pipeline/internal/ladder"
	"github.com/ontimehq/shorts-pipeline/internal/queue"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// processJob claims one job and runs the pipeline under the job timeout.
// Pipeline failures are recorded on the job row here and return nil so the
// message is acked; retries travel as fresh messages scheduled by the retry
// policy. A returned error means the job could not be handled at all.
func (w *Worker) processJob(ctx context.Context, msg *queue.JobMessage) error {
	job, err := w.store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, shorts.ErrJobNotClaimable) {
			// duplicate pickup, or the job already finished: safe no-op
			w.logger.Warn("Job not claimable, skipping",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		if errors.Is(err, shorts.ErrJobNotFound) {
			w.logger.Error("Job message for unknown job",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		return shorts.NewTransientError("claim", err)
	}

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("tenant", job.Tenant),
		slog.String("source_url", job.SourceURL),
		slog.String("worker_id", w.workerID),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err = w.runPipeline(jobCtx, job)
	if err == nil {
		w.logger.Info("Job completed",
			slog.String("job_id", job.ID),
			slog.String("hls_master_url", job.HLSMasterURL),
		)
		return nil
	}

	// Record the failure on the job row using the parent context; jobCtx may
	// already be expired.
	w.logger.Error("Pipeline failed",
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
	if markErr := w.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
		w.logger.Error("Failed to record job failure",
			slog.String("job_id", job.ID),
			slog.String("error", markErr.Error()),
		)
		return shorts.NewTransientError("record-failure", markErr)
	}

	if w.retry.ShouldRetry(err, job.RetryCount) {
		w.scheduleRetry(job.ID, job.RetryCount+1)
	}
	return nil
}

// scheduleRetry re-queues a failed job after the policy backoff. The job row
// is re-queued immediately (clearing the error and bumping retry_count); only
// the message publish is delayed. The delay goroutine is tracked by the
// worker's WaitGroup, and a shutdown flushes the publish immediately so a
// re-queued row is never left without a message.
func (w *Worker) scheduleRetry(jobID string, attempt int) {
	job, err := w.store.RetryJob(context.Background(), jobID)
	if err != nil {
		w.logger.Error("Failed to re-queue job for retry",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	delay := w.retry.Delay(attempt)
	w.logger.Info("Retry scheduled",
		slog.String("job_id", job.ID),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", w.retry.MaxAttempts),
		slog.Duration("delay", delay),
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-w.stopChan:
		}

		if err := w.publisher.EnqueueJob(context.Background(), job.ID); err != nil {
			w.logger.Error("Failed to publish retry message",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// runPipeline executes admission, fetch, probe, transcode, and publish for a
// claimed job. The scratch directory is removed on every exit path.
func (w *Worker) runPipeline(ctx context.Context, job *shorts.Job) error {
	sel := ladder.Select(job.LadderProfile, job.ContentClass)
	if sel.Downgraded {
		w.logger.Info("Ladder profile downgraded",
			slog.String("job_id", job.ID),
			slog.String("requested", job.LadderProfile),
			slog.String("selected", sel.Profile),
			slog.String("content_class", job.ContentClass),
		)
	}

	// Preflight: metadata-only duration check before any heavy work. An
	// inconclusive probe defers both the cap check and admission to the
	// post-download measurement.
	preflight, err := w.fetcher.ProbeDuration(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	if preflight > 0 {
		if uerr := w.store.UpdateDuration(ctx, job.ID, preflight); uerr != nil {
			return shorts.NewTransientError("update-duration", uerr)
		}
		job.DurationSeconds = preflight
		if preflight > w.durationCap {
			return shorts.NewValidationError(fmt.Sprintf(
				"duration %.1fs exceeds cap of %.0fs", preflight, w.durationCap,
			))
		}
		reserved, aerr := w.gate.Admit(ctx, job, sel)
		if aerr != nil {
			return aerr
		}
		job.ReservedBytes = reserved
	}

	return fetch.WithScratch(w.scratchBase, job.ID, func(dir string) error {
		sourcePath, err := w.fetcher.Download(ctx, job.SourceURL, dir)
		if err != nil {
			return err
		}

		if err := w.store.SetStatus(ctx, job.ID, shorts.StatusTranscoding); err != nil {
			return shorts.NewTransientError("set-status", err)
		}
		job.Status = shorts.StatusTranscoding

		// Authoritative duration, measured from the file itself. Guards
		// against stale or missing preflight metadata.
		measured, err := w.transcoder.MeasureDuration(ctx, sourcePath)
		if err != nil {
			return err
		}
		if uerr := w.store.UpdateDuration(ctx, job.ID, measured); uerr != nil {
			return shorts.NewTransientError("update-duration", uerr)
		}
		job.DurationSeconds = measured
		if measured > w.durationCap {
			return shorts.NewValidationError(fmt.Sprintf(
				"duration %.1fs exceeds cap of %.0fs", measured, w.durationCap,
			))
		}

		// Admission may have been deferred past preflight; it must happen
		// before the transcode, the expensive step it gates.
		if job.ReservedBytes == 0 {
			reserved, aerr := w.gate.Admit(ctx, job, sel)
			if aerr != nil {
				return aerr
			}
			job.ReservedBytes = reserved
		}

		hlsDir := filepath.Join(dir, "hls")
		if err := w.transcoder.Transcode(ctx, sourcePath, hlsDir, sel); err != nil {
			return err
		}

		return w.artifactPub.Publish(ctx, job, hlsDir)
	})
}
