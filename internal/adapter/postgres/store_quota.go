package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
)

const quotaColumns = `id, user_id, quota_type, limit_value, current_usage, reset_period, last_reset, next_reset, created_at, updated_at`

func (s *Store) GetQuota(ctx context.Context, userID, quotaType string) (*quota.UsageQuota, error) {
	q, err := scanQuota(s.pool.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM usage_quotas WHERE user_id = $1 AND quota_type = $2`, userID, quotaType))
	if err != nil {
		return nil, notFoundWrap(err, "get quota %s/%s", userID, quotaType)
	}
	return &q, nil
}

func (s *Store) ListQuotas(ctx context.Context, userID string) ([]quota.UsageQuota, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quotaColumns+` FROM usage_quotas WHERE user_id = $1 ORDER BY quota_type`, userID)
	if err != nil {
		return nil, mapPgError(err, "list quotas")
	}
	defer rows.Close()

	var out []quota.UsageQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		out = append(out, q)
	}
	return orEmpty(out), rows.Err()
}

// ProvisionQuota inserts a fresh record. The unique constraint on
// (user_id, quota_type) turns a duplicate into domain.ErrConflict.
func (s *Store) ProvisionQuota(ctx context.Context, req quota.ProvisionRequest, now time.Time) (*quota.UsageQuota, error) {
	q, err := scanQuota(s.pool.QueryRow(ctx,
		`INSERT INTO usage_quotas (user_id, quota_type, limit_value, current_usage, reset_period, last_reset, next_reset, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6, $5, $5)
		 RETURNING `+quotaColumns,
		req.UserID, req.QuotaType, req.Limit, string(req.ResetPeriod), now, req.ResetPeriod.Advance(now)))
	if err != nil {
		return nil, mapPgError(err, "provision quota")
	}
	return &q, nil
}

// ReconfigureQuota locks the row and rewrites limit and period, leaving
// current_usage untouched.
func (s *Store) ReconfigureQuota(ctx context.Context, req quota.ProvisionRequest, now time.Time) (*quota.UsageQuota, error) {
	var out quota.UsageQuota
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		q, err := scanQuota(tx.QueryRow(ctx,
			`SELECT `+quotaColumns+` FROM usage_quotas WHERE user_id = $1 AND quota_type = $2 FOR UPDATE`,
			req.UserID, req.QuotaType))
		if err != nil {
			return notFoundWrap(err, "lock quota %s/%s", req.UserID, req.QuotaType)
		}
		q.Reconfigure(req.Limit, req.ResetPeriod, now)
		_, err = tx.Exec(ctx,
			`UPDATE usage_quotas SET limit_value = $2, reset_period = $3, next_reset = $4, updated_at = $5 WHERE id = $1`,
			q.ID, q.Limit, string(q.ResetPeriod), q.NextReset, q.UpdatedAt)
		if err != nil {
			return mapPgError(err, "write quota")
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconfigure quota: %w", err)
	}
	return &out, nil
}

// IncrementQuota locks the row, applies the reset-then-add step in Go and
// writes it back, so concurrent increments serialize without lost updates.
func (s *Store) IncrementQuota(ctx context.Context, userID, quotaType string, amount float64, now time.Time) (*quota.UsageQuota, error) {
	var out quota.UsageQuota
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		q, err := scanQuota(tx.QueryRow(ctx,
			`SELECT `+quotaColumns+` FROM usage_quotas WHERE user_id = $1 AND quota_type = $2 FOR UPDATE`,
			userID, quotaType))
		if err != nil {
			return notFoundWrap(err, "lock quota %s/%s", userID, quotaType)
		}
		q.ApplyIncrement(now, amount)
		_, err = tx.Exec(ctx,
			`UPDATE usage_quotas SET current_usage = $2, last_reset = $3, next_reset = $4, updated_at = $5 WHERE id = $1`,
			q.ID, q.Used, q.LastReset, q.NextReset, q.UpdatedAt)
		if err != nil {
			return fmt.Errorf("write quota: %w", err)
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("increment quota: %w", err)
	}
	return &out, nil
}

func scanQuota(row scannable) (quota.UsageQuota, error) {
	var q quota.UsageQuota
	err := row.Scan(&q.ID, &q.UserID, &q.QuotaType, &q.Limit, &q.Used, &q.ResetPeriod,
		&q.LastReset, &q.NextReset, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}
