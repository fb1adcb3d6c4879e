package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ontimehq/shorts-pipeline/internal/ladder"
	"github.com/ontimehq/shorts-pipeline/internal/queue"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
	"github.com/ontimehq/shorts-pipeline/shared/rabbitmq"
)

// JobStore is the slice of the job store the pipeline drives.
type JobStore interface {
	ClaimJob(ctx context.Context, jobID string) (*shorts.Job, error)
	SetStatus(ctx context.Context, jobID, status string) error
	UpdateDuration(ctx context.Context, jobID string, seconds float64) error
	MarkFailed(ctx context.Context, jobID, errorMsg string) error
	RetryJob(ctx context.Context, jobID string) (*shorts.Job, error)
}

// Admitter reserves capacity for a job before expensive work starts.
type Admitter interface {
	Admit(ctx context.Context, job *shorts.Job, sel ladder.Selection) (int64, error)
}

// SourceFetcher probes and downloads source videos.
type SourceFetcher interface {
	ProbeDuration(ctx context.Context, sourceURL string) (float64, error)
	Download(ctx context.Context, sourceURL, scratchDir string) (string, error)
}

// MediaTranscoder measures and transcodes downloaded sources.
type MediaTranscoder interface {
	MeasureDuration(ctx context.Context, inputPath string) (float64, error)
	Transcode(ctx context.Context, inputPath, outDir string, sel ladder.Selection) error
}

// ArtifactPublisher promotes a finished ladder into the media root.
type ArtifactPublisher interface {
	Publish(ctx context.Context, job *shorts.Job, ladderDir string) error
}

// Enqueuer publishes job messages, used here for retry re-enqueues.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Storage         JobStore
	RabbitClient    *rabbitmq.Client
	Publisher       Enqueuer
	Gate            Admitter
	Fetcher         SourceFetcher
	Transcoder      MediaTranscoder
	ArtifactPub     ArtifactPublisher
	Retry           RetryPolicy
	Concurrency     int
	PrefetchCount   int
	JobTimeout      time.Duration
	ScratchBase     string
	DurationCapSecs float64
}

// Worker consumes job messages and runs the ingestion pipeline end to end:
// admission, fetch, probe, transcode, publish.
type Worker struct {
	logger      *slog.Logger
	store       JobStore
	rabbit      *rabbitmq.Client
	publisher   Enqueuer
	gate        Admitter
	fetcher     SourceFetcher
	transcoder  MediaTranscoder
	artifactPub ArtifactPublisher
	retry       RetryPolicy

	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	scratchBase   string
	durationCap   float64

	workerID string
	jobsChan chan *queue.JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Storage,
		rabbit:        cfg.RabbitClient,
		publisher:     cfg.Publisher,
		gate:          cfg.Gate,
		fetcher:       cfg.Fetcher,
		transcoder:    cfg.Transcoder,
		artifactPub:   cfg.ArtifactPub,
		retry:         cfg.Retry,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		jobTimeout:    cfg.JobTimeout,
		scratchBase:   cfg.ScratchBase,
		durationCap:   cfg.DurationCapSecs,
		workerID:      fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		jobsChan:      make(chan *queue.JobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing jobs until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker. Pending retry publishes are flushed
// before this returns.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
