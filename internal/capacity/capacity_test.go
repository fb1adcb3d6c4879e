package capacity

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontimehq/shorts-pipeline/internal/ladder"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

const gib = int64(1) << 30

// fakeReserver hands the decide callback fixed aggregates and records the
// reservation it would have written.
type fakeReserver struct {
	global   Totals
	tenant   Totals
	reserved int64
	called   bool
}

func (f *fakeReserver) ReserveCapacity(_ context.Context, _ string, decide func(global, tenant Totals) (int64, error)) error {
	f.called = true
	n, err := decide(f.global, f.tenant)
	if err != nil {
		return err
	}
	f.reserved = n
	return nil
}

func testConfig() Config {
	return Config{
		Global:           Limits{SoftBytes: 10 * gib, HardBytes: 12 * gib},
		TenantDefault:    Limits{SoftBytes: 10 * gib, HardBytes: 12 * gib},
		WarnFraction:     0.80,
		CriticalFraction: 0.95,
	}
}

func testJob(class string) *shorts.Job {
	return &shorts.Job{
		ID:              "3c5b1f5e-9d5b-4a93-8302-1f1566f6ab01",
		Tenant:          "ontime",
		ContentClass:    class,
		LadderProfile:   shorts.ProfileShortsV1,
		DurationSeconds: 60,
	}
}

func fixedEstimate(n int64) ladder.Estimator {
	return func(ladder.Selection, float64) int64 { return n }
}

func TestGate_Admit(t *testing.T) {
	sel := ladder.Select(shorts.ProfileShortsV1, shorts.ClassNormal)

	tests := []struct {
		name         string
		class        string
		used         int64
		estimate     int64
		wantReserved int64
		wantErr      string
	}{
		{
			name:         "plenty of room",
			class:        shorts.ClassNormal,
			used:         2 * gib,
			estimate:     gib,
			wantReserved: gib,
		},
		{
			name:     "hard cap rejection",
			class:    shorts.ClassPinned,
			used:     int64(11.5 * float64(gib)),
			estimate: gib,
			wantErr:  "hard cap",
		},
		{
			name:     "critical margin rejection even for pinned",
			class:    shorts.ClassPinned,
			used:     11 * gib,
			estimate: gib / 2,
			wantErr:  "capacity critical",
		},
		{
			name:     "soft cap rejection for normal content",
			class:    shorts.ClassNormal,
			used:     int64(9.5 * float64(gib)),
			estimate: gib,
			wantErr:  "soft cap exceeded",
		},
		{
			name:         "soft cap override for preferred content",
			class:        shorts.ClassPreferred,
			used:         int64(9.5 * float64(gib)),
			estimate:     gib,
			wantReserved: gib,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeReserver{
				global: Totals{UsedBytes: tt.used},
				tenant: Totals{UsedBytes: tt.used},
			}
			gate := NewGate(testConfig(), store, fixedEstimate(tt.estimate), slog.Default())

			reserved, err := gate.Admit(context.Background(), testJob(tt.class), sel)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				var verr *shorts.ValidationError
				assert.ErrorAs(t, err, &verr)
				assert.Zero(t, reserved)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReserved, reserved)
			assert.Equal(t, tt.wantReserved, store.reserved)
		})
	}
}

// serializingReserver mirrors the store's admission transaction: every
// reservation queues on one lock and each decide callback sees all previously
// committed reservations.
type serializingReserver struct {
	mu     sync.Mutex
	global Totals
	tenant Totals
}

func (f *serializingReserver) ReserveCapacity(_ context.Context, _ string, decide func(global, tenant Totals) (int64, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := decide(f.global, f.tenant)
	if err != nil {
		return err
	}
	f.global.ReservedBytes += n
	f.tenant.ReservedBytes += n
	return nil
}

func TestGate_AdmitSerializesConcurrentReservations(t *testing.T) {
	// Two normal-class jobs race for the last stretch below the soft cap.
	// 9 GiB used, 0.75 GiB each: the first lands at 9.75 GiB, the second
	// would cross 10 GiB and must be rejected.
	store := &serializingReserver{
		global: Totals{UsedBytes: 9 * gib},
		tenant: Totals{UsedBytes: 9 * gib},
	}
	gate := NewGate(testConfig(), store, fixedEstimate(3*gib/4), slog.Default())
	sel := ladder.Select(shorts.ProfileShortsV1, shorts.ClassNormal)

	first := testJob(shorts.ClassNormal)
	second := testJob(shorts.ClassNormal)
	second.ID = "8f0e2a51-64f7-4b7e-9d43-2ab9c0de5102"

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, job := range []*shorts.Job{first, second} {
		wg.Add(1)
		go func(i int, job *shorts.Job) {
			defer wg.Done()
			_, errs[i] = gate.Admit(context.Background(), job, sel)
		}(i, job)
	}
	wg.Wait()

	var admitted, rejected int
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		var verr *shorts.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, err.Error(), "soft cap exceeded")
		rejected++
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, rejected)
	assert.LessOrEqual(t, store.global.Sum(), testConfig().Global.SoftBytes)
}

func TestGate_AdmitDefersOnUnknownDuration(t *testing.T) {
	store := &fakeReserver{}
	gate := NewGate(testConfig(), store, nil, slog.Default())

	job := testJob(shorts.ClassNormal)
	job.DurationSeconds = 0

	reserved, err := gate.Admit(context.Background(), job, ladder.Select(shorts.ProfileShortsV1, shorts.ClassNormal))

	require.NoError(t, err)
	assert.Zero(t, reserved)
	assert.False(t, store.called, "no reservation transaction should run for unknown durations")
}

func TestGate_AdmitChecksTenantScope(t *testing.T) {
	cfg := testConfig()
	cfg.TenantOverrides = map[string]Limits{
		"ontime": {SoftBytes: 1 * gib, HardBytes: 2 * gib},
	}
	// Global has room, the tenant budget does not.
	store := &fakeReserver{
		global: Totals{UsedBytes: 2 * gib},
		tenant: Totals{UsedBytes: gib * 9 / 5},
	}
	gate := NewGate(cfg, store, fixedEstimate(gib), slog.Default())

	_, err := gate.Admit(context.Background(), testJob(shorts.ClassNormal), ladder.Select(shorts.ProfileShortsV1, shorts.ClassNormal))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant ontime")
}

func TestConfig_TenantLimits(t *testing.T) {
	cfg := testConfig()
	cfg.TenantOverrides = map[string]Limits{
		"bigclient": {SoftBytes: 4 * gib, HardBytes: 6 * gib},
	}

	assert.Equal(t, Limits{SoftBytes: 4 * gib, HardBytes: 6 * gib}, cfg.TenantLimits("bigclient"))
	assert.Equal(t, cfg.TenantDefault, cfg.TenantLimits("anyone-else"))
}
