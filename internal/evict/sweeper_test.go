package evict

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontimehq/shorts-pipeline/internal/capacity"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

const gib = int64(1) << 30

// fakeStore serves eviction candidates per class and records deletions.
type fakeStore struct {
	totals     capacity.Totals
	candidates map[string][]shorts.Job
	deleted    []string
}

func (f *fakeStore) GlobalTotals(context.Context) (capacity.Totals, error) {
	return f.totals, nil
}

func (f *fakeStore) EvictionCandidates(_ context.Context, contentClass string, limit int) ([]shorts.Job, error) {
	jobs := f.candidates[contentClass]
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (f *fakeStore) MarkDeleted(_ context.Context, jobID string) error {
	f.deleted = append(f.deleted, jobID)
	return nil
}

type fakeEmitter struct{ emits int }

func (f *fakeEmitter) Emit(context.Context) { f.emits++ }

func readyJob(id, class string, used int64) shorts.Job {
	return shorts.Job{
		ID:             id,
		Tenant:         "ontime",
		Status:         shorts.StatusReady,
		ContentClass:   class,
		UsedBytes:      used,
		ArtifactPrefix: "shorts/ontime/" + id,
	}
}

func newTestSweeper(cfg Config, store Store, emitter Emitter, mediaRoot string) *Sweeper {
	return NewSweeper(cfg, store, emitter, mediaRoot, slog.Default())
}

func TestSweeper_SweepBelowLowWaterIsNoop(t *testing.T) {
	store := &fakeStore{totals: capacity.Totals{UsedBytes: 5 * gib}}
	emitter := &fakeEmitter{}
	s := newTestSweeper(Config{LowWaterBytes: 8 * gib}, store, emitter, t.TempDir())

	deleted, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Empty(t, store.deleted)
	assert.Zero(t, emitter.emits)
}

func TestSweeper_SweepStopsAtLowWater(t *testing.T) {
	// 8.2 GiB used against a 7.65 GiB low-water mark: evicting the two
	// oldest ephemeral jobs is enough, normal and preferred stay.
	store := &fakeStore{
		totals: capacity.Totals{UsedBytes: 8200 * (1 << 20)},
		candidates: map[string][]shorts.Job{
			shorts.ClassEphemeral: {
				readyJob("eph-old", shorts.ClassEphemeral, 300*(1<<20)),
				readyJob("eph-new", shorts.ClassEphemeral, 400*(1<<20)),
				readyJob("eph-extra", shorts.ClassEphemeral, 200*(1<<20)),
			},
			shorts.ClassNormal: {
				readyJob("norm-1", shorts.ClassNormal, 500*(1<<20)),
			},
			shorts.ClassPreferred: {
				readyJob("pref-1", shorts.ClassPreferred, 500*(1<<20)),
			},
		},
	}
	emitter := &fakeEmitter{}
	s := newTestSweeper(Config{LowWaterBytes: 7650 * (1 << 20)}, store, emitter, t.TempDir())

	deleted, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, []string{"eph-old", "eph-new"}, store.deleted)
	assert.Equal(t, 1, emitter.emits)
}

func TestSweeper_SweepWalksClassOrder(t *testing.T) {
	// Ephemeral alone cannot reach the mark; normal is drained next,
	// preferred last. Pinned is never even queried.
	store := &fakeStore{
		totals: capacity.Totals{UsedBytes: 10 * gib},
		candidates: map[string][]shorts.Job{
			shorts.ClassEphemeral: {readyJob("eph-1", shorts.ClassEphemeral, gib)},
			shorts.ClassNormal:    {readyJob("norm-1", shorts.ClassNormal, gib)},
			shorts.ClassPreferred: {readyJob("pref-1", shorts.ClassPreferred, gib)},
			shorts.ClassPinned:    {readyJob("pin-1", shorts.ClassPinned, gib)},
		},
	}
	s := newTestSweeper(Config{LowWaterBytes: 7 * gib}, store, &fakeEmitter{}, t.TempDir())

	deleted, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, []string{"eph-1", "norm-1", "pref-1"}, store.deleted)
	assert.NotContains(t, store.deleted, "pin-1")
}

func TestSweeper_SweepHonorsSafetyCap(t *testing.T) {
	var jobs []shorts.Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, readyJob(string(rune('a'+i)), shorts.ClassEphemeral, 1<<20))
	}
	store := &fakeStore{
		totals:     capacity.Totals{UsedBytes: 100 * gib},
		candidates: map[string][]shorts.Job{shorts.ClassEphemeral: jobs},
	}
	s := newTestSweeper(Config{LowWaterBytes: gib, MaxDeletionsPerRun: 3}, store, &fakeEmitter{}, t.TempDir())

	deleted, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}

func TestSweeper_SweepIgnoresReservations(t *testing.T) {
	// In-flight reservations are not reclaimable: 7 GiB used plus 2 GiB
	// reserved sits below an 8 GiB low-water mark, so nothing is evicted
	// even though used+reserved crosses it.
	store := &fakeStore{
		totals: capacity.Totals{UsedBytes: 7 * gib, ReservedBytes: 2 * gib},
		candidates: map[string][]shorts.Job{
			shorts.ClassEphemeral: {readyJob("eph-1", shorts.ClassEphemeral, gib)},
		},
	}
	emitter := &fakeEmitter{}
	s := newTestSweeper(Config{LowWaterBytes: 8 * gib}, store, emitter, t.TempDir())

	deleted, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Empty(t, store.deleted)
	assert.Zero(t, emitter.emits)
}

func TestSweeper_SweepRemovesArtifacts(t *testing.T) {
	mediaRoot := t.TempDir()
	artifactDir := filepath.Join(mediaRoot, "shorts", "ontime", "eph-1")
	require.NoError(t, os.MkdirAll(artifactDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "master.m3u8"), []byte("#EXTM3U\n"), 0o644))

	store := &fakeStore{
		totals: capacity.Totals{UsedBytes: 10 * gib},
		candidates: map[string][]shorts.Job{
			shorts.ClassEphemeral: {readyJob("eph-1", shorts.ClassEphemeral, 5 * gib)},
		},
	}
	s := newTestSweeper(Config{LowWaterBytes: 6 * gib}, store, &fakeEmitter{}, mediaRoot)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(artifactDir)
	assert.True(t, os.IsNotExist(statErr))
}
