// Package metrics emits best-effort storage-usage snapshots for dashboards.
// A failed write never fails the pipeline step that triggered it.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ontimehq/shorts-pipeline/internal/capacity"
)

// Snapshot is one observable record of pool usage.
type Snapshot struct {
	Timestamp      time.Time      `json:"timestamp"`
	CountsByStatus map[string]int `json:"counts_by_status"`
	UsedBytes      int64          `json:"used_bytes"`
	ReservedBytes  int64          `json:"reserved_bytes"`
	CapSoft        int64          `json:"cap_soft"`
	CapHard        int64          `json:"cap_hard"`
	PctSoft        float64        `json:"pct_soft"`
	PctHard        float64        `json:"pct_hard"`
}

// Sink receives snapshots.
type Sink interface {
	Write(snap Snapshot) error
}

// FileSink writes the latest snapshot as JSON to a fixed path, atomically via
// temp file and rename so readers never see a torn record.
type FileSink struct {
	Path string
}

func (f FileSink) Write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// Store is the slice of the job store the emitter reads.
type Store interface {
	CountsByStatus(ctx context.Context) (map[string]int, error)
	GlobalTotals(ctx context.Context) (capacity.Totals, error)
}

// Emitter assembles and writes snapshots.
type Emitter struct {
	store  Store
	sink   Sink
	limits capacity.Limits
	logger *slog.Logger
}

// NewEmitter creates an emitter against the global capacity limits.
func NewEmitter(store Store, sink Sink, limits capacity.Limits, logger *slog.Logger) *Emitter {
	return &Emitter{store: store, sink: sink, limits: limits, logger: logger}
}

// Emit gathers the current snapshot and writes it to the sink. Errors are
// logged and swallowed.
func (e *Emitter) Emit(ctx context.Context) {
	counts, err := e.store.CountsByStatus(ctx)
	if err != nil {
		e.logger.Warn("Metrics snapshot skipped - count query failed",
			slog.String("error", err.Error()),
		)
		return
	}
	totals, err := e.store.GlobalTotals(ctx)
	if err != nil {
		e.logger.Warn("Metrics snapshot skipped - usage query failed",
			slog.String("error", err.Error()),
		)
		return
	}

	snap := Snapshot{
		Timestamp:      time.Now().UTC(),
		CountsByStatus: counts,
		UsedBytes:      totals.UsedBytes,
		ReservedBytes:  totals.ReservedBytes,
		CapSoft:        e.limits.SoftBytes,
		CapHard:        e.limits.HardBytes,
	}
	if e.limits.SoftBytes > 0 {
		snap.PctSoft = float64(totals.Sum()) / float64(e.limits.SoftBytes) * 100
	}
	if e.limits.HardBytes > 0 {
		snap.PctHard = float64(totals.Sum()) / float64(e.limits.HardBytes) * 100
	}

	if err := e.sink.Write(snap); err != nil {
		e.logger.Warn("Failed to write metrics snapshot",
			slog.String("error", err.Error()),
		)
	}
}
