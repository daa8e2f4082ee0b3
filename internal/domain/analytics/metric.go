// Package analytics defines metric events, their filters and summaries,
// rollups, and the derived usage and cost reports.
package analytics

import (
	"errors"
	"math"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
)

// Well-known metric types. The type is an open string.
const (
	MetricAPICall    = "api_call"
	MetricTokenUsage = "token_usage"
	MetricCost       = "cost"
	MetricLatency    = "latency"
	MetricError      = "error"
)

// Query pagination bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// MetricEvent is an immutable measured quantity.
type MetricEvent struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MetricType     string         `json:"metric_type"`
	MetricName     string         `json:"metric_name"`
	Value          float64        `json:"value"`
	Unit           string         `json:"unit,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// RecordRequest is the input for recording a metric event. A zero
// Timestamp means "now"; a set one backfills.
type RecordRequest struct {
	UserID         string         `json:"user_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MetricType     string         `json:"metric_type"`
	MetricName     string         `json:"metric_name"`
	Value          *float64       `json:"value"`
	Unit           string         `json:"unit,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp,omitempty"`
}

// Validate checks required fields and rejects non-finite values.
func (r *RecordRequest) Validate() error {
	if r.MetricType == "" {
		return errors.New("metric_type is required")
	}
	if r.MetricName == "" {
		return errors.New("metric_name is required")
	}
	if r.Value == nil {
		return errors.New("value is required")
	}
	if math.IsNaN(*r.Value) || math.IsInf(*r.Value, 0) {
		return errors.New("value must be a finite number")
	}
	return nil
}

// Filter selects metric events. Empty fields do not constrain. The time
// range is half-open: Start <= timestamp < End.
type Filter struct {
	UserID         string     `json:"user_id,omitempty"`
	AgentID        string     `json:"agent_id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	MetricType     string     `json:"metric_type,omitempty"`
	MetricName     string     `json:"metric_name,omitempty"`
	Start          *time.Time `json:"start_date,omitempty"`
	End            *time.Time `json:"end_date,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}

// Normalize clamps pagination to [1, MaxLimit] and a non-negative offset.
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Summary aggregates the events matched by a filter.
type Summary struct {
	MetricType string    `json:"metric_type,omitempty"`
	MetricName string    `json:"metric_name,omitempty"`
	Count      int64     `json:"count"`
	Sum        float64   `json:"total_value"`
	Avg        float64   `json:"avg_value"`
	Min        float64   `json:"min_value"`
	Max        float64   `json:"max_value"`
	Unit       *string   `json:"unit"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
}

// ZeroSummary is the result for a filter matching nothing: all numeric
// fields zero, a null unit, and the requested range (now when unset).
func ZeroSummary(f Filter, now time.Time) Summary {
	s := Summary{MetricType: f.MetricType, MetricName: f.MetricName, StartDate: now, EndDate: now}
	if f.Start != nil {
		s.StartDate = *f.Start
	}
	if f.End != nil {
		s.EndDate = *f.End
	}
	return s
}

// AggregatedMetric is a persisted rollup of metric events over one bucket.
type AggregatedMetric struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id,omitempty"`
	AgentID     string        `json:"agent_id,omitempty"`
	MetricType  string        `json:"metric_type"`
	MetricName  string        `json:"metric_name"`
	Period      period.Period `json:"period"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Count       int64         `json:"count"`
	Sum         float64       `json:"sum_value"`
	Avg         float64       `json:"avg_value"`
	Min         float64       `json:"min_value"`
	Max         float64       `json:"max_value"`
	Unit        string        `json:"unit,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RollupRequest asks for aggregation of [Start, End) into Period buckets,
// optionally restricted to one user or agent.
type RollupRequest struct {
	Period  period.Period `json:"period"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	UserID  string        `json:"user_id,omitempty"`
	AgentID string        `json:"agent_id,omitempty"`
}

// Validate checks that a RollupRequest is well-formed.
func (r *RollupRequest) Validate() error {
	if !r.Period.Valid() {
		return errors.New("period must be hour, day, week, or month")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("start and end are required")
	}
	if !r.Start.Before(r.End) {
		return errors.New("start must be before end")
	}
	return nil
}

// AggregateFilter selects persisted rollups.
type AggregateFilter struct {
	UserID     string
	AgentID    string
	MetricType string
	Period     period.Period
	Start      *time.Time
	End        *time.Time
	Limit      int
}
