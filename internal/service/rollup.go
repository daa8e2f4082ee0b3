package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
)

// RollupWorker periodically aggregates the previous complete hour of
// metric events.
type RollupWorker struct {
	metrics  *MetricService
	interval time.Duration
	now      func() time.Time
}

// NewRollupWorker creates a RollupWorker.
func NewRollupWorker(metrics *MetricService, interval time.Duration) *RollupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RollupWorker{metrics: metrics, interval: interval, now: clock}
}

// Start runs the worker in a goroutine until ctx is cancelled.
func (w *RollupWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce rolls up the hour before the current one.
func (w *RollupWorker) RunOnce(ctx context.Context) {
	end := period.Hour.BucketStart(w.now())
	start := end.Add(-time.Hour)
	res, err := w.metrics.Rollup(ctx, analytics.RollupRequest{Period: period.Hour, Start: start, End: end})
	if err != nil {
		slog.Warn("metric rollup failed", "start", start, "end", end, "error", err)
		return
	}
	slog.Debug("metric rollup done", "start", start, "groups", res.Groups)
}
