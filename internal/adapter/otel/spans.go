package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentbuilder"

// StartRunSpan starts a span for a group chat run.
func StartRunSpan(ctx context.Context, groupChatID, conversationID, strategy string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "groupchat.run",
		trace.WithAttributes(
			attribute.String("groupchat.id", groupChatID),
			attribute.String("conversation.id", conversationID),
			attribute.String("groupchat.strategy", strategy),
		),
	)
}

// StartTurnSpan starts a span for one agent turn within a run.
func StartTurnSpan(ctx context.Context, round int, speaker string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "groupchat.turn",
		trace.WithAttributes(
			attribute.Int("groupchat.round", round),
			attribute.String("agent.name", speaker),
		),
	)
}

// StartReportSpan starts a span for an analytics report computation.
func StartReportSpan(ctx context.Context, report, scope string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analytics."+report,
		trace.WithAttributes(attribute.String("analytics.scope", scope)),
	)
}
