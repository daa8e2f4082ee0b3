package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

// invalid marks err as a validation failure so the HTTP layer maps it to 400.
func invalid(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrValidation, err)
}

// clock returns the current UTC time. Services hold a func field so tests
// can pin it.
func clock() time.Time { return time.Now().UTC() }

// publishJSON marshals payload and publishes it on subject. Queue errors
// are logged and swallowed; a nil queue disables publishing.
func publishJSON(ctx context.Context, q messagequeue.Queue, subject string, payload any) {
	if q == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish failed", "subject", subject, "error", err)
	}
}
