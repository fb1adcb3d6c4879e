// Package selector chooses candidate videos for ingestion, deduplicates
// against existing jobs, and enqueues new ephemeral jobs.
package selector

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
	"github.com/ontimehq/shorts-pipeline/internal/storage"
)

// Store is the slice of the job store the selector needs.
type Store interface {
	RecentCandidates(ctx context.Context, tenant string, limit int) ([]storage.Candidate, error)
	FindExisting(ctx context.Context, tenant, videoID, sourceURL string) (*shorts.Job, error)
	CreateJob(ctx context.Context, job *shorts.Job) error
}

// Enqueuer hands created jobs to the worker pool.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobID string) error
}

// Result reports what happened to one candidate.
type Result struct {
	VideoID string `json:"video_id"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Deduped bool   `json:"deduped"`
}

// Options tunes one selection run.
type Options struct {
	// Limit caps the number of candidates considered, clamped to 1..50.
	Limit int
	// Fair caps how many candidates any single source contributes and
	// round-robins across sources up to Limit.
	Fair bool
	// PerSourceLimit applies in fair mode; default 3.
	PerSourceLimit int
}

func (o *Options) clamp() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 50 {
		o.Limit = 50
	}
	if o.PerSourceLimit <= 0 {
		o.PerSourceLimit = 3
	}
}

// Selector enqueues recent catalog videos as ingestion jobs.
type Selector struct {
	store   Store
	enqueue Enqueuer
	logger  *slog.Logger
}

// NewSelector creates a selector.
func NewSelector(store Store, enqueue Enqueuer, logger *slog.Logger) *Selector {
	return &Selector{store: store, enqueue: enqueue, logger: logger}
}

// EnqueueRecent selects recent candidates for a tenant and creates a job for
// each one not already ready or in flight. Existing jobs are reported as
// deduped rather than duplicated.
func (s *Selector) EnqueueRecent(ctx context.Context, tenant string, opts Options) ([]Result, error) {
	opts.clamp()

	// Over-fetch so fair mode has sources to rotate through after capping.
	fetch := opts.Limit
	if opts.Fair {
		fetch = opts.Limit * 4
		if fetch > 200 {
			fetch = 200
		}
	}

	candidates, err := s.store.RecentCandidates(ctx, tenant, fetch)
	if err != nil {
		return nil, err
	}
	if opts.Fair {
		candidates = fairOrder(candidates, opts.PerSourceLimit)
	}
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if c.VideoID == "" {
			continue
		}
		res, err := s.enqueueOne(ctx, tenant, c)
		if err != nil {
			s.logger.Error("Failed to enqueue candidate",
				slog.String("tenant", tenant),
				slog.String("video_id", c.VideoID),
				slog.String("error", err.Error()),
			)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Selector) enqueueOne(ctx context.Context, tenant string, c storage.Candidate) (Result, error) {
	sourceURL := c.SourceURL()

	existing, err := s.store.FindExisting(ctx, tenant, c.VideoID, sourceURL)
	if err == nil {
		return Result{VideoID: c.VideoID, JobID: existing.ID, Status: existing.Status, Deduped: true}, nil
	}
	if !errors.Is(err, shorts.ErrJobNotFound) {
		return Result{}, err
	}

	job := &shorts.Job{
		ID:            uuid.New().String(),
		Tenant:        tenant,
		SourceURL:     sourceURL,
		Status:        shorts.StatusQueued,
		ContentClass:  shorts.ClassEphemeral,
		LadderProfile: shorts.ProfileShortsV1,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return Result{}, err
	}
	if err := s.enqueue.EnqueueJob(ctx, job.ID); err != nil {
		// Job stays queued; a later enqueue or operator retry picks it up.
		s.logger.Warn("Job created but enqueue failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	return Result{VideoID: c.VideoID, JobID: job.ID, Status: job.Status, Deduped: false}, nil
}

// fairOrder caps each source's contribution and interleaves sources
// round-robin, preserving recency order within a source.
func fairOrder(candidates []storage.Candidate, perSource int) []storage.Candidate {
	bySource := make(map[string][]storage.Candidate)
	var order []string
	for _, c := range candidates {
		if len(bySource[c.Source]) >= perSource {
			continue
		}
		if _, seen := bySource[c.Source]; !seen {
			order = append(order, c.Source)
		}
		bySource[c.Source] = append(bySource[c.Source], c)
	}

	var out []storage.Candidate
	for round := 0; ; round++ {
		advanced := false
		for _, src := range order {
			if round < len(bySource[src]) {
				out = append(out, bySource[src][round])
				advanced = true
			}
		}
		if !advanced {
			return out
		}
	}
}
