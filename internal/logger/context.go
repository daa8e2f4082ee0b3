package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// fields are the correlation identifiers a context can carry. Setters copy
// so parent contexts are never mutated.
type fields struct {
	requestID      string
	groupChatID    string
	conversationID string
}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(ctxKey{}).(fields)
	return f
}

// WithRequestID stores the HTTP or message request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	f := fromContext(ctx)
	f.requestID = id
	return context.WithValue(ctx, ctxKey{}, f)
}

// RequestID returns the stored request ID, or "".
func RequestID(ctx context.Context) string {
	return fromContext(ctx).requestID
}

// WithRun tags ctx with the group chat and conversation of a background run.
func WithRun(ctx context.Context, groupChatID, conversationID string) context.Context {
	f := fromContext(ctx)
	f.groupChatID = groupChatID
	f.conversationID = conversationID
	return context.WithValue(ctx, ctxKey{}, f)
}

// attrs lists the non-empty identifiers in ctx.
func attrs(ctx context.Context) []slog.Attr {
	f := fromContext(ctx)
	out := make([]slog.Attr, 0, 3)
	for _, kv := range [...]struct{ k, v string }{
		{"request_id", f.requestID},
		{"group_chat_id", f.groupChatID},
		{"conversation_id", f.conversationID},
	} {
		if kv.v != "" {
			out = append(out, slog.String(kv.k, kv.v))
		}
	}
	return out
}
