package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

// MetricService records metric events and answers filtered queries,
// summaries, and rollups.
type MetricService struct {
	store database.Store
	queue messagequeue.Queue
	now   func() time.Time
}

// NewMetricService creates a new MetricService.
func NewMetricService(store database.Store) *MetricService {
	return &MetricService{store: store, now: clock}
}

// SetQueue enables publishing of recorded events.
func (s *MetricService) SetQueue(q messagequeue.Queue) { s.queue = q }

// Record stores an immutable event, stamped with the current time unless
// a backfill timestamp is supplied.
func (s *MetricService) Record(ctx context.Context, req analytics.RecordRequest) (*analytics.MetricEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	ev := &analytics.MetricEvent{
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		MetricType:     req.MetricType,
		MetricName:     req.MetricName,
		Value:          *req.Value,
		Unit:           req.Unit,
		Metadata:       req.Metadata,
		Timestamp:      ts,
	}
	if err := s.store.RecordMetric(ctx, ev); err != nil {
		return nil, fmt.Errorf("record metric: %w", err)
	}

	publishJSON(ctx, s.queue, messagequeue.SubjectMetricRecorded, messagequeue.MetricRecordedPayload{
		MetricID:   ev.ID,
		UserID:     ev.UserID,
		MetricType: ev.MetricType,
		MetricName: ev.MetricName,
		Value:      ev.Value,
	})
	return ev, nil
}

// Track records an event on behalf of instrumentation. Failures are logged
// and never reach the measured operation.
func (s *MetricService) Track(ctx context.Context, req analytics.RecordRequest) {
	if s == nil {
		return
	}
	if _, err := s.Record(ctx, req); err != nil {
		slog.Warn("metric tracking failed", "metric_type", req.MetricType, "metric_name", req.MetricName, "error", err)
	}
}

// Query returns matching events newest first. The limit is capped at
// analytics.MaxLimit.
func (s *MetricService) Query(ctx context.Context, f analytics.Filter) ([]analytics.MetricEvent, error) {
	f.Normalize()
	return s.store.QueryMetrics(ctx, f)
}

// Summarize aggregates the matching events. An empty match yields zeroes,
// a null unit, and the requested range (or now on unset ends).
func (s *MetricService) Summarize(ctx context.Context, f analytics.Filter) (analytics.Summary, error) {
	sum, err := s.store.SummarizeMetrics(ctx, f)
	if err != nil {
		return sum, fmt.Errorf("summarize metrics: %w", err)
	}
	if sum.Count == 0 {
		return analytics.ZeroSummary(f, s.now()), nil
	}
	return sum, nil
}

// RollupResult reports what a rollup wrote.
type RollupResult struct {
	Period  period.Period `json:"period"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Buckets int           `json:"buckets"`
	Groups  int64         `json:"groups"`
}

// Rollup aggregates [start, end) per calendar bucket of the period. Edge
// buckets are clipped to the window. Re-running it overwrites the same
// aggregates.
func (s *MetricService) Rollup(ctx context.Context, req analytics.RollupRequest) (*RollupResult, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	res := &RollupResult{Period: req.Period, Start: req.Start, End: req.End}
	for _, b := range req.Period.Buckets(req.Start, req.End) {
		bucket := req
		bucket.Start, bucket.End = b[0], b[1]
		n, err := s.store.RollupMetrics(ctx, bucket)
		if err != nil {
			return res, fmt.Errorf("rollup: %w", err)
		}
		res.Buckets++
		res.Groups += n
	}
	return res, nil
}

// Aggregates lists stored rollups.
func (s *MetricService) Aggregates(ctx context.Context, f analytics.AggregateFilter) ([]analytics.AggregatedMetric, error) {
	if f.Period != "" && !f.Period.Valid() {
		return nil, invalid(fmt.Errorf("invalid period %q", f.Period))
	}
	if f.Limit <= 0 || f.Limit > analytics.MaxLimit {
		f.Limit = analytics.DefaultLimit
	}
	return s.store.ListAggregates(ctx, f)
}
