// Package capacity implements storage admission control: projecting a job's
// footprint against global and per-tenant byte budgets and reserving it
// atomically before any expensive work starts.
package capacity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/ontimehq/shorts-pipeline/internal/ladder"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// Limits holds the byte budgets for one scope (global or a single tenant).
type Limits struct {
	SoftBytes int64
	HardBytes int64
}

// Totals is the aggregate byte accounting over all non-deleted jobs in a
// scope at one point in time.
type Totals struct {
	UsedBytes     int64
	ReservedBytes int64
}

// Sum returns used plus reserved bytes.
func (t Totals) Sum() int64 {
	return t.UsedBytes + t.ReservedBytes
}

// Config holds the deployment's capacity budgets.
type Config struct {
	Global           Limits
	TenantDefault    Limits
	TenantOverrides  map[string]Limits
	CriticalFraction float64 // hard-cap fraction above which everything is rejected
	WarnFraction     float64 // hard-cap fraction that triggers a warning signal
}

// TenantLimits resolves the budget for a tenant, falling back to the default.
func (c Config) TenantLimits(tenant string) Limits {
	if lim, ok := c.TenantOverrides[tenant]; ok {
		return lim
	}
	return c.TenantDefault
}

// Reserver serializes the read-aggregate-then-write-reservation sequence.
// The decide callback observes the locked aggregates and returns the number
// of bytes to reserve, or an error to abort without reserving.
type Reserver interface {
	ReserveCapacity(ctx context.Context, jobID string, decide func(global, tenant Totals) (int64, error)) error
}

// Gate performs capacity admission for jobs.
type Gate struct {
	cfg      Config
	store    Reserver
	estimate ladder.Estimator
	logger   *slog.Logger
}

// NewGate creates an admission gate. A nil estimator uses the default
// bitrate-sum heuristic.
func NewGate(cfg Config, store Reserver, estimate ladder.Estimator, logger *slog.Logger) *Gate {
	if estimate == nil {
		estimate = ladder.EstimateBytes
	}
	return &Gate{cfg: cfg, store: store, estimate: estimate, logger: logger}
}

// Admit estimates the footprint of job and reserves it against the global and
// tenant budgets inside one transaction. A zero estimate (unknown duration)
// admits without reserving; admission is re-run once the duration is probed.
// Policy rejections come back as shorts.ValidationError.
func (g *Gate) Admit(ctx context.Context, job *shorts.Job, sel ladder.Selection) (int64, error) {
	est := g.estimate(sel, job.DurationSeconds)
	if est == 0 {
		g.logger.Debug("Admission deferred - duration unknown",
			slog.String("job_id", job.ID),
		)
		return 0, nil
	}

	tenantLimits := g.cfg.TenantLimits(job.Tenant)

	err := g.store.ReserveCapacity(ctx, job.ID, func(global, tenant Totals) (int64, error) {
		if err := g.check("global", g.cfg.Global, global, est, job); err != nil {
			return 0, err
		}
		if err := g.check("tenant "+job.Tenant, tenantLimits, tenant, est, job); err != nil {
			return 0, err
		}
		return est, nil
	})
	if err != nil {
		return 0, err
	}

	g.logger.Info("Capacity reserved",
		slog.String("job_id", job.ID),
		slog.String("tenant", job.Tenant),
		slog.String("reserved", humanize.IBytes(uint64(est))),
	)
	return est, nil
}

// check applies the admission policy for one scope, in order: hard cap,
// critical margin, warning signal, soft cap with priority-class override.
func (g *Gate) check(scope string, lim Limits, current Totals, estimate int64, job *shorts.Job) error {
	projected := current.Sum() + estimate

	if projected > lim.HardBytes {
		return shorts.NewValidationError(fmt.Sprintf(
			"capacity exceeded: %s hard cap %s, projected %s",
			scope, humanize.IBytes(uint64(lim.HardBytes)), humanize.IBytes(uint64(projected)),
		))
	}

	critical := int64(float64(lim.HardBytes) * g.cfg.CriticalFraction)
	if projected > critical {
		return shorts.NewValidationError(fmt.Sprintf(
			"capacity critical: %s usage would cross %.0f%% of hard cap (%s projected)",
			scope, g.cfg.CriticalFraction*100, humanize.IBytes(uint64(projected)),
		))
	}

	warn := int64(float64(lim.HardBytes) * g.cfg.WarnFraction)
	if projected > warn {
		g.logger.Warn("Capacity warning threshold crossed",
			slog.String("scope", scope),
			slog.String("projected", humanize.IBytes(uint64(projected))),
			slog.String("hard_cap", humanize.IBytes(uint64(lim.HardBytes))),
		)
	}

	if projected > lim.SoftBytes {
		if !shorts.PriorityClass(job.ContentClass) {
			return shorts.NewValidationError(fmt.Sprintf(
				"soft cap exceeded: %s soft cap %s, projected %s",
				scope, humanize.IBytes(uint64(lim.SoftBytes)), humanize.IBytes(uint64(projected)),
			))
		}
		g.logger.Info("Soft cap override for priority content",
			slog.String("job_id", job.ID),
			slog.String("scope", scope),
			slog.String("content_class", job.ContentClass),
			slog.String("projected", humanize.IBytes(uint64(projected))),
		)
	}

	return nil
}
