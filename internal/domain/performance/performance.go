// Package performance defines operation timing records and their statistics.
package performance

import (
	"errors"
	"math"
	"sort"
	"time"
)

// Status is the outcome of a measured operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Metric is an immutable timing record of one operation.
type Metric struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Operation      string         `json:"operation"`
	DurationMS     float64        `json:"duration_ms"`
	Status         Status         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// RecordRequest is the input for recording a performance metric.
type RecordRequest struct {
	AgentID        string         `json:"agent_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Operation      string         `json:"operation"`
	DurationMS     float64        `json:"duration_ms"`
	Status         Status         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Validate checks required fields; duration must be finite and >= 0.
func (r *RecordRequest) Validate() error {
	if r.Operation == "" {
		return errors.New("operation is required")
	}
	if r.DurationMS < 0 || math.IsNaN(r.DurationMS) || math.IsInf(r.DurationMS, 0) {
		return errors.New("duration_ms must be a finite number >= 0")
	}
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	if r.Status != StatusSuccess && r.Status != StatusError {
		return errors.New("status must be success or error")
	}
	return nil
}

// Statistics summarises the records of one operation over [StartDate, EndDate).
// Percentiles use the nearest-rank definition: the value at rank ceil(p*N)
// of the ascending durations.
type Statistics struct {
	Operation     string    `json:"operation,omitempty"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	TotalCount    int64     `json:"total_count"`
	SuccessCount  int64     `json:"success_count"`
	ErrorCount    int64     `json:"error_count"`
	SuccessRate   float64   `json:"success_rate"`
	MinDurationMS float64   `json:"min_duration_ms"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	MaxDurationMS float64   `json:"max_duration_ms"`
	P50DurationMS float64   `json:"p50_duration_ms"`
	P95DurationMS float64   `json:"p95_duration_ms"`
	P99DurationMS float64   `json:"p99_duration_ms"`
}

// FinishRates derives SuccessRate from the counts.
func (s *Statistics) FinishRates() {
	if s.TotalCount == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalCount)
}

// NearestRank returns the p-th percentile (0 < p <= 1) of ascending values,
// or 0 for an empty slice.
func NearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// Compute builds Statistics from the exact matched population.
func Compute(metrics []Metric) Statistics {
	var s Statistics
	if len(metrics) == 0 {
		return s
	}
	durations := make([]float64, 0, len(metrics))
	var sum float64
	for i := range metrics {
		d := metrics[i].DurationMS
		durations = append(durations, d)
		sum += d
		if metrics[i].Status == StatusError {
			s.ErrorCount++
		} else {
			s.SuccessCount++
		}
	}
	sort.Float64s(durations)

	s.TotalCount = int64(len(metrics))
	s.MinDurationMS = durations[0]
	s.MaxDurationMS = durations[len(durations)-1]
	s.AvgDurationMS = sum / float64(len(durations))
	s.P50DurationMS = NearestRank(durations, 0.50)
	s.P95DurationMS = NearestRank(durations, 0.95)
	s.P99DurationMS = NearestRank(durations, 0.99)
	s.FinishRates()
	return s
}

// Filter selects performance metrics.
type Filter struct {
	Operation      string
	AgentID        string
	ConversationID string
	Start          time.Time
	End            time.Time
}

// GlobalRates is the cross-user response-time and error-rate pair used by
// usage statistics.
type GlobalRates struct {
	Count         int64
	ErrorCount    int64
	AvgDurationMS float64
}

// ErrorRate returns ErrorCount/Count, 0 when there are no records.
func (g GlobalRates) ErrorRate() float64 {
	if g.Count == 0 {
		return 0
	}
	return float64(g.ErrorCount) / float64(g.Count)
}
