package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
)

const metricColumns = `id, user_id, agent_id, conversation_id, metric_type, metric_name, value, unit, metadata, timestamp`

const aggregateColumns = `id, user_id, agent_id, metric_type, metric_name, period, period_start, period_end,
	count, sum_value, avg_value, min_value, max_value, unit, created_at`

// RecordMetric inserts ev. A zero Timestamp takes the database clock.
func (s *Store) RecordMetric(ctx context.Context, ev *analytics.MetricEvent) error {
	meta, err := marshalJSON(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO metric_events (user_id, agent_id, conversation_id, metric_type, metric_name, value, unit, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		 RETURNING id, timestamp`,
		nullIfEmpty(ev.UserID), nullIfEmpty(ev.AgentID), nullIfEmpty(ev.ConversationID),
		ev.MetricType, ev.MetricName, ev.Value, nullIfEmpty(ev.Unit), meta, nullTime(ev.Timestamp),
	).Scan(&ev.ID, &ev.Timestamp)
	if err != nil {
		return mapPgError(err, "record metric")
	}
	return nil
}

func metricFilter(f analytics.Filter) *queryBuilder {
	q := &queryBuilder{}
	q.eq("user_id", f.UserID)
	q.eq("agent_id", f.AgentID)
	q.eq("conversation_id", f.ConversationID)
	q.eq("metric_type", f.MetricType)
	q.eq("metric_name", f.MetricName)
	window("timestamp", f.Start, f.End, q)
	return q
}

// QueryMetrics returns matching events newest first.
func (s *Store) QueryMetrics(ctx context.Context, f analytics.Filter) ([]analytics.MetricEvent, error) {
	q := metricFilter(f)
	sql := `SELECT ` + metricColumns + ` FROM metric_events` + q.clause() +
		` ORDER BY timestamp DESC, id` + q.page(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, mapPgError(err, "query metrics")
	}
	defer rows.Close()

	var out []analytics.MetricEvent
	for rows.Next() {
		ev, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, ev)
	}
	return orEmpty(out), rows.Err()
}

// SummarizeMetrics aggregates the matched events. The unit is the one
// carried by the earliest event that has a unit.
func (s *Store) SummarizeMetrics(ctx context.Context, f analytics.Filter) (analytics.Summary, error) {
	q := metricFilter(f)
	sum := analytics.Summary{MetricType: f.MetricType, MetricName: f.MetricName}
	var startDate, endDate *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(value), 0), COALESCE(AVG(value), 0),
		        COALESCE(MIN(value), 0), COALESCE(MAX(value), 0),
		        (array_agg(unit ORDER BY timestamp) FILTER (WHERE unit IS NOT NULL))[1],
		        MIN(timestamp), MAX(timestamp)
		 FROM metric_events`+q.clause(), q.args...,
	).Scan(&sum.Count, &sum.Sum, &sum.Avg, &sum.Min, &sum.Max, &sum.Unit, &startDate, &endDate)
	if err != nil {
		return sum, mapPgError(err, "summarize metrics")
	}
	if startDate != nil {
		sum.StartDate = *startDate
	}
	if endDate != nil {
		sum.EndDate = *endDate
	}
	if f.Start != nil {
		sum.StartDate = *f.Start
	}
	if f.End != nil {
		sum.EndDate = *f.End
	}
	return sum, nil
}

// MetricTotals ignores the metric type and name of f.
func (s *Store) MetricTotals(ctx context.Context, f analytics.Filter) (analytics.Totals, error) {
	f.MetricType, f.MetricName = "", ""
	q := metricFilter(f)
	var t analytics.Totals
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(value) FILTER (WHERE metric_type = '%s'), 0),
		        COALESCE(SUM(value) FILTER (WHERE metric_type = '%s'), 0),
		        COUNT(*) FILTER (WHERE metric_type = '%s')
		 FROM metric_events`, analytics.MetricCost, analytics.MetricTokenUsage, analytics.MetricAPICall)+q.clause(),
		q.args...,
	).Scan(&t.TotalCost, &t.TotalTokens, &t.APICalls)
	if err != nil {
		return t, mapPgError(err, "metric totals")
	}
	return t, nil
}

// RollupMetrics aggregates [b.Start, b.End) grouped by user, agent, type,
// name and unit, replacing any aggregate already stored for the same bucket.
func (s *Store) RollupMetrics(ctx context.Context, b analytics.RollupRequest) (int64, error) {
	q := queryBuilder{args: []any{string(b.Period), b.Start, b.End}}
	q.where("timestamp >= $2 AND timestamp < $3")
	q.eq("user_id", b.UserID)
	q.eq("agent_id", b.AgentID)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO aggregated_metrics (group_key, user_id, agent_id, metric_type, metric_name, period,
		        period_start, period_end, count, sum_value, avg_value, min_value, max_value, unit)
		 SELECT COALESCE(user_id::text, '') || '|' || COALESCE(agent_id::text, '') || '|' ||
		        metric_type || '|' || metric_name || '|' || COALESCE(unit, ''),
		        user_id, agent_id, metric_type, metric_name, $1, $2, $3,
		        COUNT(*), SUM(value), AVG(value), MIN(value), MAX(value), unit
		 FROM metric_events`+q.clause()+`
		 GROUP BY user_id, agent_id, metric_type, metric_name, unit
		 ON CONFLICT (group_key, period, period_start) DO UPDATE SET
		        period_end = EXCLUDED.period_end,
		        count = EXCLUDED.count,
		        sum_value = EXCLUDED.sum_value,
		        avg_value = EXCLUDED.avg_value,
		        min_value = EXCLUDED.min_value,
		        max_value = EXCLUDED.max_value,
		        created_at = NOW()`,
		q.args...)
	if err != nil {
		return 0, mapPgError(err, fmt.Sprintf("rollup %s bucket %s", b.Period, b.Start.Format(time.RFC3339)))
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListAggregates(ctx context.Context, f analytics.AggregateFilter) ([]analytics.AggregatedMetric, error) {
	var q queryBuilder
	q.eq("user_id", f.UserID)
	q.eq("agent_id", f.AgentID)
	q.eq("metric_type", f.MetricType)
	q.eq("period", string(f.Period))
	if f.Start != nil {
		q.where("period_start >= ?", *f.Start)
	}
	if f.End != nil {
		q.where("period_end <= ?", *f.End)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = analytics.DefaultLimit
	}
	sql := `SELECT ` + aggregateColumns + ` FROM aggregated_metrics` + q.clause() +
		` ORDER BY period_start DESC, metric_type, metric_name` + q.page(limit, 0)

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, mapPgError(err, "list aggregates")
	}
	defer rows.Close()

	var out []analytics.AggregatedMetric
	for rows.Next() {
		var a analytics.AggregatedMetric
		var userID, agentID, unit *string
		if err := rows.Scan(&a.ID, &userID, &agentID, &a.MetricType, &a.MetricName, &a.Period,
			&a.PeriodStart, &a.PeriodEnd, &a.Count, &a.Sum, &a.Avg, &a.Min, &a.Max, &unit, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		a.UserID, a.AgentID, a.Unit = deref(userID), deref(agentID), deref(unit)
		out = append(out, a)
	}
	return orEmpty(out), rows.Err()
}

func scanMetric(row scannable) (analytics.MetricEvent, error) {
	var ev analytics.MetricEvent
	var userID, agentID, convID, unit *string
	var metaJSON []byte
	err := row.Scan(&ev.ID, &userID, &agentID, &convID, &ev.MetricType, &ev.MetricName, &ev.Value, &unit, &metaJSON, &ev.Timestamp)
	if err != nil {
		return ev, err
	}
	ev.UserID, ev.AgentID, ev.ConversationID, ev.Unit = deref(userID), deref(agentID), deref(convID), deref(unit)
	return ev, unmarshalJSON(metaJSON, &ev.Metadata, "metadata")
}
