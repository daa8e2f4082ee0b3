package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/otel"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

// QuotaService tracks per-user resource ceilings with periodic reset.
type QuotaService struct {
	store   database.Store
	metrics *cfotel.Metrics
	queue   messagequeue.Queue
	now     func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store database.Store) *QuotaService {
	return &QuotaService{store: store, now: clock}
}

// SetMetrics attaches the OpenTelemetry instruments.
func (s *QuotaService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetQueue routes Consume through the message queue. Pair it with
// Subscribe on at least one replica.
func (s *QuotaService) SetQueue(q messagequeue.Queue) { s.queue = q }

// Check reports the quota state without side effects. A missing record is
// not an error: the result has Exists and Exceeded both false.
func (s *QuotaService) Check(ctx context.Context, userID, quotaType string) (quota.CheckResult, error) {
	q, err := s.store.GetQuota(ctx, userID, quotaType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return quota.NewCheckResult(quotaType, nil), nil
		}
		return quota.CheckResult{}, fmt.Errorf("check quota: %w", err)
	}
	return quota.NewCheckResult(quotaType, q), nil
}

// Increment adds amount to the quota, resetting first when the period
// boundary has passed. It returns nil without creating anything when the
// user has no quota of that type.
func (s *QuotaService) Increment(ctx context.Context, userID, quotaType string, req quota.IncrementRequest) (*quota.UsageQuota, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	q, err := s.store.IncrementQuota(ctx, userID, quotaType, req.Amount, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("increment quota: %w", err)
	}
	s.metrics.QuotaIncremented(ctx, quotaType, req.Amount)
	return q, nil
}

// Consume increments on behalf of instrumentation. Missing quotas and
// failures are ignored. With a queue attached the amount is published and
// applied by the subscriber; a failed publish applies it in place.
func (s *QuotaService) Consume(ctx context.Context, userID, quotaType string, amount float64) {
	if s == nil || userID == "" || amount <= 0 {
		return
	}
	if s.queue != nil {
		data, err := json.Marshal(messagequeue.QuotaConsumePayload{UserID: userID, QuotaType: quotaType, Amount: amount})
		if err == nil {
			err = s.queue.Publish(ctx, messagequeue.SubjectQuotaConsume, data)
		}
		if err == nil {
			return
		}
		slog.Warn("quota publish failed, applying directly", "user_id", userID, "quota_type", quotaType, "error", err)
	}
	if _, err := s.Increment(ctx, userID, quotaType, quota.IncrementRequest{Amount: amount}); err != nil {
		slog.Warn("quota consumption failed", "user_id", userID, "quota_type", quotaType, "error", err)
	}
}

// Subscribe applies consumption published by Consume.
func (s *QuotaService) Subscribe(ctx context.Context, q messagequeue.Queue) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectQuotaConsume, s.applyConsumption)
}

// applyConsumption returns store failures so the queue redelivers.
func (s *QuotaService) applyConsumption(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.QuotaConsumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode quota consumption: %w", err)
	}
	if p.UserID == "" || p.Amount <= 0 {
		return nil
	}
	if _, err := s.Increment(ctx, p.UserID, p.QuotaType, quota.IncrementRequest{Amount: p.Amount}); err != nil {
		return err
	}
	return nil
}

// Provision creates a quota whose window starts now. A quota that already
// exists for (user, type) is a conflict; use Reconfigure to change it.
func (s *QuotaService) Provision(ctx context.Context, req quota.ProvisionRequest) (*quota.UsageQuota, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("user %s: %w", req.UserID, err)
	}
	q, err := s.store.ProvisionQuota(ctx, req, s.now())
	if err != nil {
		return nil, fmt.Errorf("provision quota: %w", err)
	}
	return q, nil
}

// Reconfigure changes the limit and reset period of an existing quota
// without touching its usage.
func (s *QuotaService) Reconfigure(ctx context.Context, req quota.ProvisionRequest) (*quota.UsageQuota, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	q, err := s.store.ReconfigureQuota(ctx, req, s.now())
	if err != nil {
		return nil, fmt.Errorf("reconfigure quota: %w", err)
	}
	return q, nil
}

// List returns every quota of a user.
func (s *QuotaService) List(ctx context.Context, userID string) ([]quota.UsageQuota, error) {
	return s.store.ListQuotas(ctx, userID)
}
