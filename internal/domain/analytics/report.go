package analytics

import (
	"fmt"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
)

// UsageStatistics is the per-user usage report over a time range.
//
// AvgResponseTimeMS and ErrorRate are computed over every performance
// record in range, not only the user's, because performance records carry
// no user reference.
type UsageStatistics struct {
	UserID            string             `json:"user_id"`
	StartDate         time.Time          `json:"start_date"`
	EndDate           time.Time          `json:"end_date"`
	TotalAPICalls     int64              `json:"total_api_calls"`
	TotalTokens       float64            `json:"total_tokens"`
	TotalCost         float64            `json:"total_cost"`
	AvgResponseTimeMS float64            `json:"avg_response_time_ms"`
	ErrorRate         float64            `json:"error_rate"`
	Quotas            []quota.UsageQuota `json:"quotas"`
}

// EntityType names the foreign key a cost breakdown is scoped by.
type EntityType string

const (
	EntityAgent        EntityType = "agent"
	EntityConversation EntityType = "conversation"
)

// ParseEntityType validates a cost-breakdown entity type.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityAgent, EntityConversation:
		return EntityType(s), nil
	}
	return "", fmt.Errorf("unsupported entity type %q: must be agent or conversation", s)
}

// Totals is the cost/token/call triple computed for one scope.
type Totals struct {
	TotalCost   float64 `json:"total_cost"`
	TotalTokens float64 `json:"total_tokens"`
	APICalls    int64   `json:"api_calls"`
}

// CostBreakdown reports cost for a single agent or conversation.
type CostBreakdown struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    time.Time  `json:"end_date"`
	Totals
}

// TimeRange is a resolved half-open [Start, End) window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// MonthToDate returns [first day of now's month, now).
func MonthToDate(now time.Time) TimeRange {
	return TimeRange{
		Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()),
		End:   now,
	}
}

// DayToDate returns [start of now's day, now).
func DayToDate(now time.Time) TimeRange {
	return TimeRange{
		Start: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		End:   now,
	}
}

// Resolve fills unset bounds from a default range.
func Resolve(start, end *time.Time, def TimeRange) TimeRange {
	r := def
	if start != nil {
		r.Start = *start
	}
	if end != nil {
		r.End = *end
	}
	return r
}
