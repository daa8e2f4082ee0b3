package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/otel"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/cache"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// AnalyticsService composes the metric, performance, and quota stores into
// cross-cutting reports.
type AnalyticsService struct {
	store    database.Store
	perf     *PerformanceService
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(store database.Store, perf *PerformanceService) *AnalyticsService {
	return &AnalyticsService{store: store, perf: perf, now: clock}
}

// SetCache enables report caching for ttl.
func (s *AnalyticsService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.cacheTTL = ttl
}

// AuthorizeUser resolves the user a report is about. An empty userID means
// the caller; only superusers may ask about someone else.
func AuthorizeUser(caller *user.User, userID string) (string, error) {
	if caller == nil {
		return "", fmt.Errorf("no identity: %w", domain.ErrForbidden)
	}
	if userID == "" {
		return caller.ID, nil
	}
	if !caller.CanAccessUser(userID) {
		return "", fmt.Errorf("access to user %s: %w", userID, domain.ErrForbidden)
	}
	return userID, nil
}

// UsageStatistics reports a user's calls, tokens, and cost over the range
// (default month to date), the global response time and error rate, and
// the user's quotas. Only the aggregate part is cached; quotas are always
// read fresh.
func (s *AnalyticsService) UsageStatistics(ctx context.Context, userID string, start, end *time.Time) (*analytics.UsageStatistics, error) {
	ctx, span := cfotel.StartReportSpan(ctx, "usage_statistics", userID)
	defer span.End()

	var stats analytics.UsageStatistics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.usageTotals(gctx, userID, start, end)
		stats = st
		return err
	})
	var quotas []quota.UsageQuota
	g.Go(func() error {
		var err error
		quotas, err = s.store.ListQuotas(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("usage statistics: %w", err)
	}
	stats.Quotas = quotas
	if stats.Quotas == nil {
		stats.Quotas = []quota.UsageQuota{}
	}
	return &stats, nil
}

// usageTotals computes the cacheable part of UsageStatistics.
func (s *AnalyticsService) usageTotals(ctx context.Context, userID string, start, end *time.Time) (analytics.UsageStatistics, error) {
	key := cache.Key("usage", userID, rangeKey(start, end))
	if cached, ok := cacheGet[analytics.UsageStatistics](ctx, s, key); ok {
		return cached, nil
	}

	r := analytics.Resolve(start, end, analytics.MonthToDate(s.now()))
	var (
		totals analytics.Totals
		rates  performance.GlobalRates
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.store.MetricTotals(gctx, analytics.Filter{UserID: userID, Start: &r.Start, End: &r.End})
		return err
	})
	g.Go(func() error {
		var err error
		rates, err = s.store.PerformanceGlobalRates(gctx, r.Start, r.End)
		return err
	})
	if err := g.Wait(); err != nil {
		return analytics.UsageStatistics{}, err
	}

	stats := analytics.UsageStatistics{
		UserID:            userID,
		StartDate:         r.Start,
		EndDate:           r.End,
		TotalAPICalls:     totals.APICalls,
		TotalTokens:       totals.TotalTokens,
		TotalCost:         totals.TotalCost,
		AvgResponseTimeMS: rates.AvgDurationMS,
		ErrorRate:         rates.ErrorRate(),
	}
	s.cacheSet(ctx, key, &stats)
	return stats, nil
}

// PerformanceStatistics reports on one operation (or all when empty) over
// the range, defaulting to the start of the current day until now.
func (s *AnalyticsService) PerformanceStatistics(ctx context.Context, operation string, start, end *time.Time) (performance.Statistics, error) {
	ctx, span := cfotel.StartReportSpan(ctx, "performance_statistics", operation)
	defer span.End()

	r := analytics.Resolve(start, end, analytics.DayToDate(s.now()))
	st, err := s.perf.Statistics(ctx, performance.Filter{Operation: operation, Start: r.Start, End: r.End})
	if err != nil {
		return st, err
	}
	st.Operation = operation
	st.StartDate, st.EndDate = r.Start, r.End
	return st, nil
}

// CostBreakdown totals cost, tokens, and API calls of one agent or
// conversation over the range, defaulting to month to date.
func (s *AnalyticsService) CostBreakdown(ctx context.Context, entityType, entityID string, start, end *time.Time) (*analytics.CostBreakdown, error) {
	et, err := analytics.ParseEntityType(entityType)
	if err != nil {
		return nil, invalid(err)
	}
	if entityID == "" {
		return nil, invalid(fmt.Errorf("entity id is required"))
	}

	ctx, span := cfotel.StartReportSpan(ctx, "cost_breakdown", string(et)+":"+entityID)
	defer span.End()

	key := cache.Key("cost", string(et), entityID, rangeKey(start, end))
	if cached, ok := cacheGet[analytics.CostBreakdown](ctx, s, key); ok {
		return &cached, nil
	}

	r := analytics.Resolve(start, end, analytics.MonthToDate(s.now()))
	f := analytics.Filter{Start: &r.Start, End: &r.End}
	if et == analytics.EntityAgent {
		f.AgentID = entityID
	} else {
		f.ConversationID = entityID
	}
	totals, err := s.store.MetricTotals(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("cost breakdown: %w", err)
	}

	out := &analytics.CostBreakdown{
		EntityType: et,
		EntityID:   entityID,
		StartDate:  r.Start,
		EndDate:    r.End,
		Totals:     totals,
	}
	s.cacheSet(ctx, key, out)
	return out, nil
}

// rangeKey identifies the requested bounds. Unset bounds key as "-" so a
// default-range report is shared for the cache TTL.
func rangeKey(start, end *time.Time) string {
	k := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return k(start) + "/" + k(end)
}

func cacheGet[T any](ctx context.Context, s *AnalyticsService, key string) (T, bool) {
	v, ok, err := cache.GetJSON[T](ctx, s.cache, key)
	if err != nil {
		slog.Warn("report cache read failed", "key", key, "error", err)
	}
	return v, ok
}

func (s *AnalyticsService) cacheSet(ctx context.Context, key string, v any) {
	if err := cache.SetJSON(ctx, s.cache, key, v, s.cacheTTL); err != nil {
		slog.Warn("report cache write failed", "key", key, "error", err)
	}
}
