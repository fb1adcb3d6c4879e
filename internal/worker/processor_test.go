package worker

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontimehq/shorts-pipeline/internal/ladder"
	"github.com/ontimehq/shorts-pipeline/internal/queue"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

type fakeJobStore struct {
	job      *shorts.Job
	claimErr error

	claims      int
	statuses    []string
	durations   []float64
	failedMsg   string
	failedCalls int
	retryCalls  int
}

func (f *fakeJobStore) ClaimJob(_ context.Context, jobID string) (*shorts.Job, error) {
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	job := *f.job
	job.ID = jobID
	return &job, nil
}

func (f *fakeJobStore) SetStatus(_ context.Context, _, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeJobStore) UpdateDuration(_ context.Context, _ string, seconds float64) error {
	f.durations = append(f.durations, seconds)
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, _, errorMsg string) error {
	f.failedCalls++
	f.failedMsg = errorMsg
	return nil
}

func (f *fakeJobStore) RetryJob(_ context.Context, jobID string) (*shorts.Job, error) {
	f.retryCalls++
	job := *f.job
	job.ID = jobID
	job.Status = shorts.StatusQueued
	job.RetryCount++
	return &job, nil
}

type fakeAdmitter struct {
	reserved int64
	err      error
	calls    int
}

func (f *fakeAdmitter) Admit(_ context.Context, job *shorts.Job, _ ladder.Selection) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.reserved, nil
}

type fakeFetcher struct {
	probe       float64
	probeErr    error
	downloadErr error

	probeCalls    int
	downloadCalls int
}

func (f *fakeFetcher) ProbeDuration(_ context.Context, _ string) (float64, error) {
	f.probeCalls++
	return f.probe, f.probeErr
}

func (f *fakeFetcher) Download(_ context.Context, _, scratchDir string) (string, error) {
	f.downloadCalls++
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	return filepath.Join(scratchDir, "source.mp4"), nil
}

type fakeMediaTranscoder struct {
	measured   float64
	measureErr error
	encodeErr  error

	measureCalls int
	encodeCalls  int
}

func (f *fakeMediaTranscoder) MeasureDuration(_ context.Context, _ string) (float64, error) {
	f.measureCalls++
	return f.measured, f.measureErr
}

func (f *fakeMediaTranscoder) Transcode(_ context.Context, _, _ string, _ ladder.Selection) error {
	f.encodeCalls++
	return f.encodeErr
}

type fakeArtifactPublisher struct {
	err   error
	calls int
}

func (f *fakeArtifactPublisher) Publish(_ context.Context, job *shorts.Job, _ string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	job.Status = shorts.StatusReady
	return nil
}

type fakeEnqueuer struct {
	ids chan string
}

func (f *fakeEnqueuer) EnqueueJob(_ context.Context, jobID string) error {
	f.ids <- jobID
	return nil
}

type pipelineFixture struct {
	worker     *Worker
	store      *fakeJobStore
	gate       *fakeAdmitter
	fetcher    *fakeFetcher
	transcoder *fakeMediaTranscoder
	artifacts  *fakeArtifactPublisher
	enqueuer   *fakeEnqueuer
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	store := &fakeJobStore{
		job: &shorts.Job{
			Tenant:        "ontime",
			Status:        shorts.StatusDownloading,
			ContentClass:  shorts.ClassNormal,
			LadderProfile: shorts.ProfileShortsV1,
			SourceURL:     "https://youtu.be/vid-1",
		},
	}
	gate := &fakeAdmitter{reserved: 1 << 20}
	fetcher := &fakeFetcher{probe: 60}
	transcoder := &fakeMediaTranscoder{measured: 60}
	artifacts := &fakeArtifactPublisher{}
	enqueuer := &fakeEnqueuer{ids: make(chan string, 4)}

	w := NewWorker(&Config{
		Logger:      slog.Default(),
		Storage:     store,
		Publisher:   enqueuer,
		Gate:        gate,
		Fetcher:     fetcher,
		Transcoder:  transcoder,
		ArtifactPub: artifacts,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Retryable:   shorts.IsRetryable,
		},
		JobTimeout:      5 * time.Second,
		ScratchBase:     t.TempDir(),
		DurationCapSecs: 90,
	})

	return &pipelineFixture{
		worker:     w,
		store:      store,
		gate:       gate,
		fetcher:    fetcher,
		transcoder: transcoder,
		artifacts:  artifacts,
		enqueuer:   enqueuer,
	}
}

func (fx *pipelineFixture) process(t *testing.T) error {
	t.Helper()
	return fx.worker.processJob(context.Background(), &queue.JobMessage{
		JobID: "3c5b1f5e-9d5b-4a93-8302-1f1566f6ab01",
	})
}

func TestWorker_ProcessJobSuccess(t *testing.T) {
	fx := newPipelineFixture(t)

	require.NoError(t, fx.process(t))

	assert.Equal(t, 1, fx.gate.calls)
	assert.Equal(t, 1, fx.fetcher.downloadCalls)
	assert.Equal(t, 1, fx.transcoder.encodeCalls)
	assert.Equal(t, 1, fx.artifacts.calls)
	assert.Contains(t, fx.store.statuses, shorts.StatusTranscoding)
	assert.Zero(t, fx.store.failedCalls)
	assert.Zero(t, fx.store.retryCalls)
}

func TestWorker_ProcessJobDuplicatePickupIsNoop(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.store.claimErr = shorts.ErrJobNotClaimable

	require.NoError(t, fx.process(t))

	assert.Zero(t, fx.fetcher.probeCalls)
	assert.Zero(t, fx.store.failedCalls)
}

func TestWorker_ProcessJobUnknownJobIsDropped(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.store.claimErr = shorts.ErrJobNotFound

	require.NoError(t, fx.process(t))

	assert.Zero(t, fx.fetcher.probeCalls)
}

func TestWorker_ProcessJobPreflightOverCap(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fetcher.probe = 91

	require.NoError(t, fx.process(t))

	assert.Equal(t, 1, fx.store.failedCalls)
	assert.Contains(t, fx.store.failedMsg, "exceeds cap")
	assert.Contains(t, fx.store.durations, 91.0)
	// Rejected before any heavy work, and validation failures never retry.
	assert.Zero(t, fx.fetcher.downloadCalls)
	assert.Zero(t, fx.gate.calls)
	assert.Zero(t, fx.store.retryCalls)
}

func TestWorker_ProcessJobMeasuredOverCap(t *testing.T) {
	fx := newPipelineFixture(t)
	// Inconclusive preflight defers the cap check to the measured duration.
	fx.fetcher.probe = 0
	fx.transcoder.measured = 91

	require.NoError(t, fx.process(t))

	assert.Equal(t, 1, fx.fetcher.downloadCalls)
	assert.Equal(t, 1, fx.store.failedCalls)
	assert.Contains(t, fx.store.failedMsg, "exceeds cap")
	assert.Zero(t, fx.transcoder.encodeCalls)
	assert.Zero(t, fx.gate.calls)
	assert.Zero(t, fx.store.retryCalls)
}

func TestWorker_ProcessJobTransientFailureSchedulesRetry(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fetcher.downloadErr = shorts.NewTransientError("download", errors.New("connection reset"))

	require.NoError(t, fx.process(t))

	assert.Equal(t, 1, fx.store.failedCalls)
	assert.Contains(t, fx.store.failedMsg, "connection reset")
	assert.Equal(t, 1, fx.store.retryCalls)

	select {
	case id := <-fx.enqueuer.ids:
		assert.Equal(t, "3c5b1f5e-9d5b-4a93-8302-1f1566f6ab01", id)
	case <-time.After(time.Second):
		t.Fatal("retry message was never published")
	}
}

func TestWorker_ProcessJobPermanentFailureNoRetry(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fetcher.downloadErr = shorts.NewPermanentError("download", "video_unavailable", errors.New("404"))

	require.NoError(t, fx.process(t))

	assert.Equal(t, 1, fx.store.failedCalls)
	assert.Zero(t, fx.store.retryCalls)
	assert.Empty(t, fx.enqueuer.ids)
}

func TestWorker_ProcessJobRetriesExhausted(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.store.job.RetryCount = 3
	fx.fetcher.downloadErr = shorts.NewTransientError("download", errors.New("timeout"))

	require.NoError(t, fx.process(t))

	assert.Equal(t, 1, fx.store.failedCalls)
	assert.Zero(t, fx.store.retryCalls)
}

func TestWorker_StopFlushesPendingRetry(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.worker.retry.BaseDelay = time.Hour
	fx.worker.retry.MaxDelay = time.Hour
	fx.fetcher.downloadErr = shorts.NewTransientError("download", errors.New("connection reset"))

	require.NoError(t, fx.process(t))
	require.Equal(t, 1, fx.store.retryCalls)

	// The backoff window is an hour away; shutdown must publish the pending
	// retry message before returning.
	done := make(chan struct{})
	go func() {
		fx.worker.Stop()
		close(done)
	}()

	select {
	case id := <-fx.enqueuer.ids:
		assert.Equal(t, "3c5b1f5e-9d5b-4a93-8302-1f1566f6ab01", id)
	case <-time.After(time.Second):
		t.Fatal("pending retry was not flushed on shutdown")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
