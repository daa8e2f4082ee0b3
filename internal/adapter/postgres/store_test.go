package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/postgres"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

var _ database.Store = (*postgres.Store)(nil)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func createTestUser(t *testing.T, store *postgres.Store) *user.User {
	t.Helper()
	suffix := uuid.New().String()[:8]
	u := &user.User{
		Email:          "u-" + suffix + "@example.com",
		Username:       "u-" + suffix,
		HashedPassword: "x",
		IsActive:       true,
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() { _ = store.DeleteUser(context.Background(), u.ID) })
	return u
}

func createTestAgent(t *testing.T, store *postgres.Store, name string) *agent.Agent {
	t.Helper()
	a, err := store.CreateAgent(context.Background(), agent.CreateRequest{
		Name:          name + "-" + uuid.New().String()[:8],
		Type:          "assistant",
		Status:        agent.StatusActive,
		InitialConfig: map[string]any{"system_message": "be brief"},
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	t.Cleanup(func() { _ = store.DeleteAgent(context.Background(), a.ID) })
	return a
}

func TestAgentVersions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a := createTestAgent(t, store, "versioned")

	if a.CurrentVersionID == "" {
		t.Fatal("expected initial current version")
	}
	v2, err := store.CreateVersion(ctx, a.ID, agent.CreateVersionRequest{Version: "1.1.0", Config: map[string]any{"model": "m"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateVersion(ctx, a.ID, agent.CreateVersionRequest{Version: "1.1.0", Config: map[string]any{}}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for duplicate version, got %v", err)
	}

	updated, err := store.SetCurrentVersion(ctx, a.ID, v2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.CurrentVersionID != v2.ID {
		t.Fatalf("pointer not moved: %s", updated.CurrentVersionID)
	}
	versions, err := store.ListVersions(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	current := 0
	for _, v := range versions {
		if v.IsCurrent {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current version, got %d", current)
	}

	if _, err := store.GetAgent(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
}

func TestAppendMessagesPreservesOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a := createTestAgent(t, store, "chatter")

	conv, err := store.CreateConversation(ctx, conversation.CreateRequest{AgentID: a.ID, Title: "order"})
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Truncate(time.Microsecond)
	msgs := []conversation.Message{
		{Role: "user", Content: "first", CreatedAt: ts},
		{Role: "assistant", Content: "second", CreatedAt: ts},
		{Role: "assistant", Content: "third", CreatedAt: ts},
	}
	if err := store.AppendMessages(ctx, conv.ID, msgs); err != nil {
		t.Fatal(err)
	}
	got, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Content != "first" || got[2].Content != "third" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGroupChatParticipants(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a1 := createTestAgent(t, store, "p1")
	a2 := createTestAgent(t, store, "p2")
	a3 := createTestAgent(t, store, "p3")

	gc, err := store.CreateGroupChat(ctx, groupchat.CreateRequest{
		Title:               "trio",
		SelectionStrategy:   groupchat.StrategyRoundRobin,
		MaxRounds:           3,
		ParticipantAgentIDs: []string{a1.ID, a2.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.DeleteGroupChat(ctx, gc.ID) })

	if err := store.RemoveParticipant(ctx, gc.ID, a1.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error below two participants, got %v", err)
	}
	if _, err := store.AddParticipant(ctx, gc.ID, groupchat.AddParticipantRequest{AgentID: a3.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddParticipant(ctx, gc.ID, groupchat.AddParticipantRequest{AgentID: a3.ID}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for duplicate participant, got %v", err)
	}
	if err := store.RemoveParticipant(ctx, gc.ID, a1.ID); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetGroupChat(ctx, gc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Participants) != 2 || got.Participants[0].AgentID != a2.ID {
		t.Fatalf("unexpected participants %+v", got.Participants)
	}
}

func TestMetricsSummarizeAndRollup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	u := createTestUser(t, store)
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i, v := range []float64{1, 2, 3} {
		ev := &analytics.MetricEvent{
			UserID: u.ID, MetricType: analytics.MetricTokenUsage, MetricName: "prompt",
			Value: v, Unit: "tokens", Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordMetric(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := store.SummarizeMetrics(ctx, analytics.Filter{UserID: u.ID})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 3 || sum.Sum != 6 || sum.Min != 1 || sum.Max != 3 || sum.Unit == nil || *sum.Unit != "tokens" {
		t.Fatalf("unexpected summary %+v", sum)
	}

	empty, err := store.SummarizeMetrics(ctx, analytics.Filter{UserID: u.ID, MetricType: "nothing"})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Count != 0 || empty.Unit != nil {
		t.Fatalf("expected zero summary, got %+v", empty)
	}

	start := period.Hour.BucketStart(base)
	end := period.Hour.BucketEnd(start)
	for range 2 {
		if _, err := store.RollupMetrics(ctx, analytics.RollupRequest{Period: period.Hour, Start: start, End: end, UserID: u.ID}); err != nil {
			t.Fatal(err)
		}
	}
	aggs, err := store.ListAggregates(ctx, analytics.AggregateFilter{UserID: u.ID, Period: period.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(aggs) != 1 || aggs[0].Count != 3 || aggs[0].Sum != 6 {
		t.Fatalf("expected one idempotent aggregate, got %+v", aggs)
	}

	// A window starting mid-bucket still picks up the events after its start.
	n, err := store.RollupMetrics(ctx, analytics.RollupRequest{
		Period: period.Day, Start: base.Add(time.Minute), End: base.Add(time.Hour), UserID: u.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one group in the partial window, got %d", n)
	}
	aggs, err = store.ListAggregates(ctx, analytics.AggregateFilter{UserID: u.ID, Period: period.Day})
	if err != nil {
		t.Fatal(err)
	}
	if len(aggs) != 1 || aggs[0].Count != 2 || aggs[0].Sum != 5 {
		t.Fatalf("expected the two later events, got %+v", aggs)
	}
}

func TestQuotaConcurrentIncrements(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	u := createTestUser(t, store)
	now := time.Now().UTC()

	if _, err := store.ProvisionQuota(ctx, quota.ProvisionRequest{
		UserID: u.ID, QuotaType: quota.TypeAPICall, Limit: 100, ResetPeriod: period.Day,
	}, now); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementQuota(ctx, u.ID, quota.TypeAPICall, 1, now); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	q, err := store.GetQuota(ctx, u.ID, quota.TypeAPICall)
	if err != nil {
		t.Fatal(err)
	}
	if q.Used != 20 {
		t.Fatalf("expected 20 after concurrent increments, got %v", q.Used)
	}

	// Past next_reset the window restarts before adding.
	later := q.NextReset.Add(time.Second)
	q, err = store.IncrementQuota(ctx, u.ID, quota.TypeAPICall, 5, later)
	if err != nil {
		t.Fatal(err)
	}
	if q.Used != 5 || !q.NextReset.Equal(later.Add(24*time.Hour)) {
		t.Fatalf("unexpected quota after reset %+v", q)
	}

	if _, err := store.IncrementQuota(ctx, u.ID, "missing", 1, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuotaProvisionConflictAndReconfigure(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	u := createTestUser(t, store)
	now := time.Now().UTC().Truncate(time.Microsecond)
	req := quota.ProvisionRequest{UserID: u.ID, QuotaType: quota.TypeCost, Limit: 10, ResetPeriod: period.Day}

	if _, err := store.ProvisionQuota(ctx, req, now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.IncrementQuota(ctx, u.ID, quota.TypeCost, 10, now); err != nil {
		t.Fatal(err)
	}

	req.Limit = 1e9
	if _, err := store.ProvisionQuota(ctx, req, now.Add(time.Minute)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate provision: expected conflict, got %v", err)
	}

	req.Limit, req.ResetPeriod = 20, period.Week
	q, err := store.ReconfigureQuota(ctx, req, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if q.Used != 10 || q.Limit != 20 || q.ResetPeriod != period.Week {
		t.Fatalf("unexpected reconfigured quota %+v", q)
	}
	got, err := store.GetQuota(ctx, u.ID, quota.TypeCost)
	if err != nil {
		t.Fatal(err)
	}
	if got.Used != 10 || got.Limit != 20 || !got.NextReset.Equal(now.Add(7*24*time.Hour)) {
		t.Fatalf("persisted quota %+v", got)
	}

	req.QuotaType = "missing"
	if _, err := store.ReconfigureQuota(ctx, req, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPerformanceStatistics(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	op := "op-" + uuid.New().String()[:8]
	for i := 1; i <= 100; i++ {
		status := performance.StatusSuccess
		if i%10 == 0 {
			status = performance.StatusError
		}
		if err := store.RecordPerformance(ctx, &performance.Metric{Operation: op, DurationMS: float64(i), Status: status}); err != nil {
			t.Fatal(err)
		}
	}
	st, err := store.PerformanceStatistics(ctx, performance.Filter{Operation: op})
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalCount != 100 || st.P50DurationMS != 50 || st.P95DurationMS != 95 || st.P99DurationMS != 99 {
		t.Fatalf("unexpected statistics %+v", st)
	}
	if st.SuccessRate != 0.9 {
		t.Fatalf("unexpected success rate %v", st.SuccessRate)
	}
}

func TestExecutionLogs(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a := createTestAgent(t, store, "logger")
	conv, err := store.CreateConversation(ctx, conversation.CreateRequest{AgentID: a.ID, Title: "logs"})
	if err != nil {
		t.Fatal(err)
	}

	for _, lvl := range []execlog.Level{execlog.LevelInfo, execlog.LevelInfo, execlog.LevelError} {
		if _, err := store.CreateLog(ctx, execlog.CreateRequest{
			ConversationID: conv.ID, EventType: execlog.EventSystem, Level: lvl, Content: "x",
		}); err != nil {
			t.Fatal(err)
		}
	}
	st, err := store.LogStats(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalLogs != 3 || st.ByLevel["info"] != 2 || st.ByEventType["system"] != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
	errorsOnly, err := store.ListLogs(ctx, conv.ID, execlog.Filter{Level: execlog.LevelError, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(errorsOnly) != 1 {
		t.Fatalf("expected one error log, got %d", len(errorsOnly))
	}
	n, err := store.DeleteLogs(ctx, conv.ID)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deleted, got %d %v", n, err)
	}
}
