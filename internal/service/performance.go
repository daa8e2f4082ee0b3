package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// PerformanceService records operation timings.
type PerformanceService struct {
	store database.Store
}

// NewPerformanceService creates a new PerformanceService.
func NewPerformanceService(store database.Store) *PerformanceService {
	return &PerformanceService{store: store}
}

// Record appends a timing record.
func (s *PerformanceService) Record(ctx context.Context, req performance.RecordRequest) (*performance.Metric, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	m := &performance.Metric{
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		Operation:      req.Operation,
		DurationMS:     req.DurationMS,
		Status:         req.Status,
		ErrorMessage:   req.ErrorMessage,
		Metadata:       req.Metadata,
	}
	if err := s.store.RecordPerformance(ctx, m); err != nil {
		return nil, fmt.Errorf("record performance: %w", err)
	}
	return m, nil
}

// Track records a timing on behalf of instrumentation, logging failures.
func (s *PerformanceService) Track(ctx context.Context, req performance.RecordRequest) {
	if s == nil {
		return
	}
	if _, err := s.Record(ctx, req); err != nil {
		slog.Warn("performance tracking failed", "operation", req.Operation, "error", err)
	}
}

// Statistics returns counts, durations, and nearest-rank percentiles for
// the matching records. No matches yields all zeroes.
func (s *PerformanceService) Statistics(ctx context.Context, f performance.Filter) (performance.Statistics, error) {
	st, err := s.store.PerformanceStatistics(ctx, f)
	if err != nil {
		return st, fmt.Errorf("performance statistics: %w", err)
	}
	return st, nil
}
