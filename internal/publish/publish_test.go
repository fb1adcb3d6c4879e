package publish

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

type fakeStore struct {
	jobID     string
	usedBytes int64
	masterURL string
	err       error
}

func (f *fakeStore) MarkReady(_ context.Context, jobID string, usedBytes int64, masterURL string) error {
	f.jobID = jobID
	f.usedBytes = usedBytes
	f.masterURL = masterURL
	return f.err
}

type fakeEmitter struct{ emits int }

func (f *fakeEmitter) Emit(context.Context) { f.emits++ }

func writeLadder(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestPublisher_Publish(t *testing.T) {
	mediaRoot := t.TempDir()
	scratch := t.TempDir()

	ladderDir := filepath.Join(scratch, "hls")
	writeLadder(t, ladderDir, map[string]string{
		"master.m3u8":    "#EXTM3U\n",
		"480p.m3u8":      "#EXTM3U\n#EXT-X-TARGETDURATION:4\n",
		"480p_00000.ts":  "0123456789",
		"720p.m3u8":      "#EXTM3U\n#EXT-X-TARGETDURATION:4\n",
		"720p_00000.ts":  "01234567890123456789",
	})

	store := &fakeStore{}
	emitter := &fakeEmitter{}
	pub := NewPublisher(mediaRoot, store, emitter, slog.Default())

	job := &shorts.Job{
		ID:             "job-1",
		Tenant:         "ontime",
		ArtifactPrefix: "shorts/ontime/job-1",
		Status:         shorts.StatusTranscoding,
		ReservedBytes:  1 << 20,
	}

	err := pub.Publish(context.Background(), job, ladderDir)
	require.NoError(t, err)

	// The ladder moved into the media root.
	final := filepath.Join(mediaRoot, "shorts", "ontime", "job-1")
	_, statErr := os.Stat(filepath.Join(final, "master.m3u8"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(ladderDir)
	assert.True(t, os.IsNotExist(statErr), "scratch ladder dir must be gone after promote")

	// Accounting switched from reservation to measured usage.
	var wantSize int64
	for _, content := range []string{"#EXTM3U\n", "#EXTM3U\n#EXT-X-TARGETDURATION:4\n", "0123456789", "#EXTM3U\n#EXT-X-TARGETDURATION:4\n", "01234567890123456789"} {
		wantSize += int64(len(content))
	}
	assert.Equal(t, "job-1", store.jobID)
	assert.Equal(t, wantSize, store.usedBytes)
	assert.Equal(t, "/shorts/ontime/job-1/master.m3u8", store.masterURL)

	assert.Equal(t, shorts.StatusReady, job.Status)
	assert.Equal(t, wantSize, job.UsedBytes)
	assert.Zero(t, job.ReservedBytes)
	assert.Equal(t, "/shorts/ontime/job-1/master.m3u8", job.HLSMasterURL)

	assert.Equal(t, 1, emitter.emits)
}

func TestPublisher_PublishReplacesExistingArtifact(t *testing.T) {
	mediaRoot := t.TempDir()
	scratch := t.TempDir()

	// A stale artifact from an earlier attempt occupies the final path.
	stale := filepath.Join(mediaRoot, "shorts", "ontime", "job-1")
	writeLadder(t, stale, map[string]string{"leftover.ts": "stale data"})

	ladderDir := filepath.Join(scratch, "hls")
	writeLadder(t, ladderDir, map[string]string{"master.m3u8": "#EXTM3U\n"})

	store := &fakeStore{}
	pub := NewPublisher(mediaRoot, store, &fakeEmitter{}, slog.Default())

	job := &shorts.Job{ID: "job-1", Tenant: "ontime", ArtifactPrefix: "shorts/ontime/job-1"}
	require.NoError(t, pub.Publish(context.Background(), job, ladderDir))

	_, statErr := os.Stat(filepath.Join(stale, "leftover.ts"))
	assert.True(t, os.IsNotExist(statErr), "stale artifact contents must be replaced")
	assert.Equal(t, int64(len("#EXTM3U\n")), store.usedBytes)
}

func TestPublisher_PublishStoreFailure(t *testing.T) {
	mediaRoot := t.TempDir()
	scratch := t.TempDir()

	ladderDir := filepath.Join(scratch, "hls")
	writeLadder(t, ladderDir, map[string]string{"master.m3u8": "#EXTM3U\n"})

	store := &fakeStore{err: assert.AnError}
	emitter := &fakeEmitter{}
	pub := NewPublisher(mediaRoot, store, emitter, slog.Default())

	job := &shorts.Job{ID: "job-1", Tenant: "ontime", ArtifactPrefix: "shorts/ontime/job-1"}
	err := pub.Publish(context.Background(), job, ladderDir)

	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, emitter.emits)
	assert.NotEqual(t, shorts.StatusReady, job.Status)
}
