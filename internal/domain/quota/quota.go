// Package quota defines per-user resource ceilings with periodic reset.
package quota

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
)

// Well-known quota types. The type is an open string.
const (
	TypeAPICall    = "api_call"
	TypeTokenUsage = "token_usage"
	TypeCost       = "cost"
)

// UsageQuota is the single record for one (user, quota type) pair.
type UsageQuota struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	QuotaType   string        `json:"quota_type"`
	Limit       float64       `json:"limit_value"`
	Used        float64       `json:"current_usage"`
	ResetPeriod period.Period `json:"reset_period"`
	LastReset   time.Time     `json:"last_reset"`
	NextReset   time.Time     `json:"next_reset"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Exceeded is true iff used >= limit.
func (q *UsageQuota) Exceeded() bool {
	return q.Used >= q.Limit
}

// Remaining returns max(0, limit-used).
func (q *UsageQuota) Remaining() float64 {
	return math.Max(0, q.Limit-q.Used)
}

// Percentage returns used as a percentage of limit, 0 when limit is 0.
func (q *UsageQuota) Percentage() float64 {
	if q.Limit == 0 {
		return 0
	}
	return q.Used / q.Limit * 100
}

// ApplyIncrement mutates q as one read-modify-write step at time now. When
// now has reached NextReset, usage is zeroed and the window restarts at now
// with NextReset one period later; the amount is then added. It reports
// whether a reset happened.
func (q *UsageQuota) ApplyIncrement(now time.Time, amount float64) bool {
	reset := false
	if !now.Before(q.NextReset) {
		q.Used = 0
		q.LastReset = now
		q.NextReset = q.ResetPeriod.Advance(now)
		reset = true
	}
	q.Used += amount
	q.UpdatedAt = now
	return reset
}

// Reconfigure changes the limit and reset period while keeping current
// usage. A new period rebases NextReset on LastReset.
func (q *UsageQuota) Reconfigure(limit float64, p period.Period, now time.Time) {
	q.Limit = limit
	if p != q.ResetPeriod {
		q.ResetPeriod = p
		q.NextReset = p.Advance(q.LastReset)
	}
	q.UpdatedAt = now
}

// CheckResult is the response of a quota check.
type CheckResult struct {
	QuotaType   string        `json:"quota_type"`
	Exists      bool          `json:"exists"`
	Exceeded    bool          `json:"exceeded"`
	Limit       float64       `json:"limit"`
	Used        float64       `json:"used"`
	Remaining   float64       `json:"remaining"`
	Percentage  float64       `json:"percentage"`
	ResetPeriod period.Period `json:"reset_period,omitempty"`
	NextReset   *time.Time    `json:"next_reset,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// NewCheckResult builds a CheckResult from an optional quota.
func NewCheckResult(quotaType string, q *UsageQuota) CheckResult {
	if q == nil {
		return CheckResult{
			QuotaType: quotaType,
			Message:   "no quota set for this type",
		}
	}
	next := q.NextReset
	return CheckResult{
		QuotaType:   quotaType,
		Exists:      true,
		Exceeded:    q.Exceeded(),
		Limit:       q.Limit,
		Used:        q.Used,
		Remaining:   q.Remaining(),
		Percentage:  q.Percentage(),
		ResetPeriod: q.ResetPeriod,
		NextReset:   &next,
	}
}

// ProvisionRequest creates the quota for (user, type), or carries the new
// limit and period when reconfiguring an existing one.
type ProvisionRequest struct {
	UserID      string        `json:"user_id"`
	QuotaType   string        `json:"quota_type"`
	Limit       float64       `json:"limit_value"`
	ResetPeriod period.Period `json:"reset_period"`
}

// Validate checks that a ProvisionRequest is well-formed.
func (r *ProvisionRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.QuotaType == "" {
		return errors.New("quota_type is required")
	}
	if r.Limit < 0 || math.IsNaN(r.Limit) || math.IsInf(r.Limit, 0) {
		return errors.New("limit_value must be a finite number >= 0")
	}
	if !r.ResetPeriod.Valid() {
		return fmt.Errorf("invalid reset_period %q", r.ResetPeriod)
	}
	return nil
}

// IncrementRequest adds to a quota's usage.
type IncrementRequest struct {
	Amount     float64 `json:"amount"`
	Correction bool    `json:"correction"`
}

// Validate rejects non-finite amounts and negative amounts not flagged as corrections.
func (r *IncrementRequest) Validate() error {
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return errors.New("amount must be finite")
	}
	if r.Amount < 0 && !r.Correction {
		return errors.New("negative amounts are only allowed as corrections")
	}
	return nil
}
