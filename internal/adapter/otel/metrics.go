package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentbuilder"

// Metrics holds the group-chat and quota instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsFinished   metric.Int64Counter
	Turns          metric.Int64Counter
	RunDuration    metric.Float64Histogram
	TurnDuration   metric.Float64Histogram
	QuotaIncrement metric.Float64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("agentbuilder.groupchat.runs.started",
		metric.WithDescription("Number of group chat runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsFinished, err = meter.Int64Counter("agentbuilder.groupchat.runs.finished",
		metric.WithDescription("Number of group chat runs finished, by terminal state"))
	if err != nil {
		return nil, err
	}

	m.Turns, err = meter.Int64Counter("agentbuilder.groupchat.turns",
		metric.WithDescription("Number of agent turns produced"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("agentbuilder.groupchat.run.duration_seconds",
		metric.WithDescription("Group chat run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("agentbuilder.groupchat.turn.duration_seconds",
		metric.WithDescription("Agent turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.QuotaIncrement, err = meter.Float64Counter("agentbuilder.quota.increment",
		metric.WithDescription("Amount added to usage quotas, by quota type"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted records a run start. Safe on a nil receiver.
func (m *Metrics) RunStarted(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RunFinished records a terminal run state and its duration.
func (m *Metrics) RunFinished(ctx context.Context, state string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	m.RunsFinished.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, seconds, attrs)
}

// TurnProduced records one agent turn.
func (m *Metrics) TurnProduced(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1)
	m.TurnDuration.Record(ctx, seconds)
}

// QuotaIncremented records an increment amount.
func (m *Metrics) QuotaIncremented(ctx context.Context, quotaType string, amount float64) {
	if m == nil {
		return
	}
	m.QuotaIncrement.Add(ctx, amount, metric.WithAttributes(attribute.String("quota_type", quotaType)))
}
