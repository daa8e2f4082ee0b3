package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
)

func (s *Store) RecordPerformance(ctx context.Context, m *performance.Metric) error {
	meta, err := marshalJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO performance_metrics (agent_id, conversation_id, operation, duration_ms, status, error_message, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		 RETURNING id, timestamp`,
		nullIfEmpty(m.AgentID), nullIfEmpty(m.ConversationID), m.Operation, m.DurationMS, m.Status,
		nullIfEmpty(m.ErrorMessage), meta, nullTime(m.Timestamp),
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return mapPgError(err, "record performance")
	}
	return nil
}

// PerformanceStatistics computes the statistics in SQL. percentile_disc
// picks the first value whose cumulative share reaches p, which is the
// nearest-rank percentile.
func (s *Store) PerformanceStatistics(ctx context.Context, f performance.Filter) (performance.Statistics, error) {
	var q queryBuilder
	q.eq("operation", f.Operation)
	q.eq("agent_id", f.AgentID)
	q.eq("conversation_id", f.ConversationID)
	if !f.Start.IsZero() {
		q.where("timestamp >= ?", f.Start)
	}
	if !f.End.IsZero() {
		q.where("timestamp < ?", f.End)
	}

	st := performance.Statistics{Operation: f.Operation, StartDate: f.Start, EndDate: f.End}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = '%s'),
		        COUNT(*) FILTER (WHERE status = '%s'),
		        COALESCE(MIN(duration_ms), 0), COALESCE(AVG(duration_ms), 0), COALESCE(MAX(duration_ms), 0),
		        COALESCE(percentile_disc(0.50) WITHIN GROUP (ORDER BY duration_ms), 0),
		        COALESCE(percentile_disc(0.95) WITHIN GROUP (ORDER BY duration_ms), 0),
		        COALESCE(percentile_disc(0.99) WITHIN GROUP (ORDER BY duration_ms), 0)
		 FROM performance_metrics`, performance.StatusSuccess, performance.StatusError)+q.clause(),
		q.args...,
	).Scan(&st.TotalCount, &st.SuccessCount, &st.ErrorCount,
		&st.MinDurationMS, &st.AvgDurationMS, &st.MaxDurationMS,
		&st.P50DurationMS, &st.P95DurationMS, &st.P99DurationMS)
	if err != nil {
		return st, mapPgError(err, "performance statistics")
	}
	st.FinishRates()
	return st, nil
}

// PerformanceGlobalRates covers every record in [start, end) regardless of
// agent or user.
func (s *Store) PerformanceGlobalRates(ctx context.Context, start, end time.Time) (performance.GlobalRates, error) {
	var g performance.GlobalRates
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $3), COALESCE(AVG(duration_ms), 0)
		 FROM performance_metrics WHERE timestamp >= $1 AND timestamp < $2`,
		start, end, string(performance.StatusError),
	).Scan(&g.Count, &g.ErrorCount, &g.AvgDurationMS)
	if err != nil {
		return g, fmt.Errorf("performance global rates: %w", err)
	}
	return g, nil
}
