package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/broadcast"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/completion"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

// newRunInput stores the conversation and initial message a run starts from.
func newRunInput(t *testing.T, store *mockStore, g *groupchat.GroupChat, content string) RunInput {
	t.Helper()
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, conversation.CreateRequest{
		AgentID: g.Participants[0].AgentID,
		Title:   "Group Chat: " + g.Title,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msg, err := store.CreateMessage(ctx, conv.ID, conversation.MessageCreateRequest{
		Role:      "user",
		Content:   content,
		ExtraData: map[string]any{conversation.ExtraMessageType: groupchat.MessageTypeInitial},
	})
	if err != nil {
		t.Fatalf("create initial message: %v", err)
	}
	if _, err := store.CreateConversationLink(ctx, g.ID, conv.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	return RunInput{
		GroupChat:      g,
		ConversationID: conv.ID,
		Initial: groupchat.Turn{
			Speaker:     "user",
			Role:        "user",
			Content:     content,
			MessageType: groupchat.MessageTypeInitial,
			CreatedAt:   msg.CreatedAt,
		},
	}
}

func speakers(turns []groupchat.Turn) []string {
	out := make([]string, len(turns))
	for i := range turns {
		out[i] = turns[i].Speaker
	}
	return out
}

func assertSpeakers(t *testing.T, res groupchat.RunResult, want ...string) {
	t.Helper()
	got := speakers(res.GeneratedTurns())
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("speakers = %v, want %v", got, want)
	}
}

func TestOrchestrator_RoundRobinAlternates(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 3, "alice", "bob")
	in := newRunInput(t, store, g, "Plan the launch")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), in)

	if res.State != groupchat.RunCompleted {
		t.Fatalf("state = %s (%s), want completed", res.State, res.Error)
	}
	if !strings.Contains(res.Reason, "max_rounds") {
		t.Errorf("reason = %q, want max_rounds", res.Reason)
	}
	assertSpeakers(t, res, "alice", "bob", "alice")

	msgs, _ := store.ListMessages(context.Background(), in.ConversationID)
	if len(msgs) != 4 {
		t.Fatalf("stored messages = %d, want 4", len(msgs))
	}
	if msgs[0].Content != "Plan the launch" {
		t.Errorf("first message = %q, want the initial message", msgs[0].Content)
	}
	for i, want := range []string{"alice", "bob", "alice"} {
		m := msgs[i+1]
		if m.ExtraData[conversation.ExtraAgentName] != want {
			t.Errorf("message %d agent = %v, want %s", i+1, m.ExtraData[conversation.ExtraAgentName], want)
		}
		if m.Content != "reply "+want {
			t.Errorf("message %d content = %q", i+1, m.Content)
		}
		if m.Role != "assistant" {
			t.Errorf("message %d role = %q, want assistant", i+1, m.Role)
		}
	}

	conv, _ := store.GetConversation(context.Background(), in.ConversationID)
	if conv.Status != conversation.StatusCompleted || conv.EndedAt == nil {
		t.Errorf("conversation = %s ended %v, want completed", conv.Status, conv.EndedAt)
	}
	links, _ := store.ListConversationLinks(context.Background(), g.ID)
	if len(links) != 1 || links[0].RoundNumber != 3 {
		t.Errorf("links = %+v, want round 3", links)
	}
}

func TestOrchestrator_SpeakerSeesFullTranscript(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 3, "alice", "bob")
	in := newRunInput(t, store, g, "hello")

	newTestOrchestrator(store, provider, nil).Run(context.Background(), in)

	reqs := provider.requests()
	if len(reqs) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(reqs))
	}
	third := reqs[2]
	if len(third.Messages) != 3 {
		t.Fatalf("third call saw %d messages, want 3", len(third.Messages))
	}
	if third.Messages[0].Role != "user" || third.Messages[0].Content != "hello" {
		t.Errorf("first message = %+v, want the initial user message", third.Messages[0])
	}
	if third.Messages[1].Role != "assistant" {
		t.Errorf("alice's own turn role = %q, want assistant", third.Messages[1].Role)
	}
	if third.Messages[2].Role != "user" || third.Messages[2].Name != "bob" {
		t.Errorf("bob's turn = %+v, want user named bob", third.Messages[2])
	}
	if third.SystemPrompt != "You are alice." || third.Model != "test-model" {
		t.Errorf("request = %q/%q, want alice's configuration", third.SystemPrompt, third.Model)
	}
}

func TestOrchestrator_SelectorNeverRepeatsSpeaker(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		selectorAnswer: func(completion.Request) (string, error) { return "alice", nil },
	}
	g := seedGroupChat(t, store, groupchat.StrategySelector, 6, "alice", "bob", "carol")
	in := newRunInput(t, store, g, "go")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), in)

	if res.State != groupchat.RunCompleted {
		t.Fatalf("state = %s (%s)", res.State, res.Error)
	}
	got := speakers(res.GeneratedTurns())
	if len(got) != 6 {
		t.Fatalf("turns = %d, want 6", len(got))
	}
	if got[0] != "alice" {
		t.Errorf("first speaker = %s, want alice", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("speaker %s repeated at turn %d: %v", got[i], i, got)
		}
	}
}

func TestOrchestrator_SelectorMatchesMentionedName(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		selectorAnswer: func(completion.Request) (string, error) { return "I think Carol should answer.", nil },
	}
	g := seedGroupChat(t, store, groupchat.StrategySelector, 1, "alice", "bob", "carol")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), newRunInput(t, store, g, "go"))

	assertSpeakers(t, res, "carol")
}

func TestOrchestrator_SelectorPrefersLongerName(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		selectorAnswer: func(completion.Request) (string, error) { return "I pick bobby", nil },
	}
	g := seedGroupChat(t, store, groupchat.StrategySelector, 1, "bob", "bobby", "carol")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), newRunInput(t, store, g, "go"))

	assertSpeakers(t, res, "bobby")
}

func TestOrchestrator_SelectorFallsBackToFirstCandidate(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		selectorAnswer: func(completion.Request) (string, error) { return "nobody", nil },
	}
	g := seedGroupChat(t, store, groupchat.StrategySelector, 2, "alice", "bob", "carol")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), newRunInput(t, store, g, "go"))

	assertSpeakers(t, res, "alice", "bob")
}

func TestOrchestrator_SelectorProviderError(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		selectorAnswer: func(completion.Request) (string, error) { return "", errors.New("rate limited") },
	}
	g := seedGroupChat(t, store, groupchat.StrategySelector, 3, "alice", "bob", "carol")
	in := newRunInput(t, store, g, "go")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), in)

	if res.State != groupchat.RunFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if !strings.Contains(res.Error, "provider fault") || !strings.Contains(res.Error, "rate limited") {
		t.Errorf("error = %q", res.Error)
	}
	msgs, _ := store.ListMessages(context.Background(), in.ConversationID)
	if len(msgs) != 1 {
		t.Errorf("stored messages = %d, want only the initial one", len(msgs))
	}
}

func TestOrchestrator_SwarmFollowsHandoff(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		reply: func(_ int, req completion.Request) (string, error) {
			if speakerOf(req) == "alice" {
				return "Needs a security look.\nHANDOFF: carol", nil
			}
			return "reply " + speakerOf(req), nil
		},
	}
	g := seedGroupChat(t, store, groupchat.StrategySwarm, 3, "alice", "bob", "carol")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), newRunInput(t, store, g, "review"))

	assertSpeakers(t, res, "alice", "carol", "alice")
	turns := res.GeneratedTurns()
	if turns[0].MessageType != groupchat.MessageTypeHandoff {
		t.Errorf("handoff turn type = %s", turns[0].MessageType)
	}
	if turns[1].MessageType != groupchat.MessageTypeText {
		t.Errorf("plain turn type = %s", turns[1].MessageType)
	}
}

func TestOrchestrator_SwarmWithoutHandoffRotates(t *testing.T) {
	store := newMockStore()
	g := seedGroupChat(t, store, groupchat.StrategySwarm, 4, "alice", "bob", "carol")

	res := newTestOrchestrator(store, &scriptedProvider{}, nil).Run(context.Background(), newRunInput(t, store, g, "review"))

	assertSpeakers(t, res, "alice", "bob", "carol", "alice")
}

func TestOrchestrator_TerminationKeyword(t *testing.T) {
	store := newMockStore()
	provider := &scriptedProvider{
		reply: func(n int, req completion.Request) (string, error) {
			if n == 2 {
				return "All settled. terminate", nil
			}
			return "reply " + speakerOf(req), nil
		},
	}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 10, "alice", "bob")
	g.TerminationConfig = map[string]any{"keywords": []any{"TERMINATE"}}
	in := newRunInput(t, store, g, "go")

	res := newTestOrchestrator(store, provider, nil).Run(context.Background(), in)

	if res.State != groupchat.RunTerminatedByPolicy {
		t.Fatalf("state = %s, want terminated_by_policy", res.State)
	}
	if !strings.Contains(res.Reason, "TERMINATE") {
		t.Errorf("reason = %q", res.Reason)
	}
	assertSpeakers(t, res, "alice", "bob")
	msgs, _ := store.ListMessages(context.Background(), in.ConversationID)
	if len(msgs) != 3 {
		t.Errorf("stored messages = %d, want 3", len(msgs))
	}
}

func TestOrchestrator_InitialMessageNeverTerminates(t *testing.T) {
	store := newMockStore()
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 2, "alice", "bob")
	g.TerminationConfig = map[string]any{"keywords": []any{"stop"}}

	res := newTestOrchestrator(store, &scriptedProvider{}, nil).Run(context.Background(), newRunInput(t, store, g, "please stop by later"))

	if res.State != groupchat.RunCompleted || len(res.GeneratedTurns()) != 2 {
		t.Fatalf("state = %s with %d turns, want completed with 2", res.State, len(res.GeneratedTurns()))
	}
}

func TestOrchestrator_MaxTurnsConstraint(t *testing.T) {
	tests := []struct {
		name        string
		allowRepeat bool
		want        []string
		reason      string
	}{
		{"no repeats", false, []string{"alice", "bob"}, "no eligible speaker"},
		{"repeats allowed", true, []string{"alice", "bob", "bob", "bob"}, "max_rounds 4 reached"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 4, "alice", "bob")
			g.AllowRepeatedSpeaker = tt.allowRepeat
			g.Participants[0].Constraints = map[string]any{"max_turns": float64(1)}

			res := newTestOrchestrator(store, &scriptedProvider{}, nil).Run(context.Background(), newRunInput(t, store, g, "go"))

			if res.State != groupchat.RunCompleted {
				t.Fatalf("state = %s (%s)", res.State, res.Error)
			}
			assertSpeakers(t, res, tt.want...)
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestOrchestrator_TurnsNeverExceedMaxRounds(t *testing.T) {
	for _, strategy := range []groupchat.Strategy{groupchat.StrategyRoundRobin, groupchat.StrategySelector, groupchat.StrategySwarm} {
		t.Run(string(strategy), func(t *testing.T) {
			store := newMockStore()
			g := seedGroupChat(t, store, strategy, 5, "alice", "bob", "carol")
			g.AllowRepeatedSpeaker = true

			res := newTestOrchestrator(store, &scriptedProvider{}, nil).Run(context.Background(), newRunInput(t, store, g, "go"))

			if !res.State.IsTerminal() {
				t.Fatalf("state %s is not terminal", res.State)
			}
			if n := len(res.GeneratedTurns()); n > g.MaxRounds {
				t.Fatalf("turns = %d, exceeds max_rounds %d", n, g.MaxRounds)
			}
		})
	}
}

func TestOrchestrator_FailureKeepsProducedTurns(t *testing.T) {
	store := newMockStore()
	hub := &recordingHub{}
	queue := &recordingQueue{}
	provider := &scriptedProvider{
		reply: func(n int, req completion.Request) (string, error) {
			if n == 3 {
				return "", errors.New("upstream 502")
			}
			return "reply " + speakerOf(req), nil
		},
	}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 5, "alice", "bob")
	in := newRunInput(t, store, g, "go")
	orch := newTestOrchestrator(store, provider, hub)
	orch.SetQueue(queue)

	res := orch.Run(context.Background(), in)

	if res.State != groupchat.RunFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if !strings.Contains(res.Error, "upstream 502") {
		t.Errorf("error = %q", res.Error)
	}
	msgs, _ := store.ListMessages(context.Background(), in.ConversationID)
	if len(msgs) != 3 {
		t.Fatalf("stored messages = %d, want initial plus 2 produced turns", len(msgs))
	}
	conv, _ := store.GetConversation(context.Background(), in.ConversationID)
	if conv.Status != conversation.StatusCompleted {
		t.Errorf("conversation status = %s, want completed", conv.Status)
	}
	if len(hub.ofType(broadcast.EventRunFailed)) != 1 {
		t.Error("expected one run failure event")
	}

	if queue.count(messagequeue.SubjectRunFailed) != 1 || queue.count(messagequeue.SubjectRunCompleted) != 0 {
		t.Fatalf("unexpected lifecycle events")
	}
	var payload messagequeue.RunFinishedPayload
	queue.decode(t, messagequeue.SubjectRunFailed, 0, &payload)
	if payload.Turns != 2 || payload.Persisted != 2 || payload.State != string(groupchat.RunFailed) {
		t.Errorf("failure payload = %+v", payload)
	}
	if queue.count(messagequeue.SubjectRunTurn) != 2 || queue.count(messagequeue.SubjectRunStarted) != 1 {
		t.Errorf("turn events = %d, started = %d", queue.count(messagequeue.SubjectRunTurn), queue.count(messagequeue.SubjectRunStarted))
	}
}

func TestOrchestrator_PersistFailureFailsRun(t *testing.T) {
	store := newMockStore()
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 2, "alice", "bob")
	in := newRunInput(t, store, g, "go")
	store.appendErr = errors.New("disk full")

	res := newTestOrchestrator(store, &scriptedProvider{}, nil).Run(context.Background(), in)

	if res.State != groupchat.RunFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if !strings.Contains(res.Error, "persist transcript") {
		t.Errorf("error = %q", res.Error)
	}
	msgs, _ := store.ListMessages(context.Background(), in.ConversationID)
	if len(msgs) != 1 {
		t.Errorf("stored messages = %d, want only the initial one", len(msgs))
	}
}

func TestOrchestrator_ConfigurationErrors(t *testing.T) {
	t.Run("participant without version", func(t *testing.T) {
		store := newMockStore()
		ctx := context.Background()
		a := seedAgent(t, store, "alice")
		bare, _ := store.CreateAgent(ctx, agent.CreateRequest{Name: "bare", Type: "assistant", Status: agent.StatusActive})
		g, _ := store.CreateGroupChat(ctx, groupchat.CreateRequest{
			Title: "t", SelectionStrategy: groupchat.StrategyRoundRobin, MaxRounds: 3,
			ParticipantAgentIDs: []string{a.ID, bare.ID},
		})
		provider := &scriptedProvider{}
		in := newRunInput(t, store, g, "go")

		res := newTestOrchestrator(store, provider, nil).Run(ctx, in)

		if res.State != groupchat.RunFailed || !strings.Contains(res.Error, "configuration error") {
			t.Fatalf("result = %s %q, want configuration failure", res.State, res.Error)
		}
		if provider.turnCalls() != 0 {
			t.Errorf("provider called %d times", provider.turnCalls())
		}
		msgs, _ := store.ListMessages(ctx, in.ConversationID)
		if len(msgs) != 1 {
			t.Errorf("stored messages = %d, want 1", len(msgs))
		}
		conv, _ := store.GetConversation(ctx, in.ConversationID)
		if conv.Status != conversation.StatusCompleted {
			t.Errorf("conversation status = %s, want completed", conv.Status)
		}
	})

	t.Run("no provider", func(t *testing.T) {
		store := newMockStore()
		g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 3, "alice", "bob")
		orch := NewOrchestrator(store, nil, nil, &config.Orchestrator{}, "")

		res := orch.Run(context.Background(), newRunInput(t, store, g, "go"))

		if res.State != groupchat.RunFailed || !strings.Contains(res.Error, "no completion provider") {
			t.Fatalf("result = %s %q", res.State, res.Error)
		}
	})

	t.Run("bad termination config", func(t *testing.T) {
		store := newMockStore()
		g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 3, "alice", "bob")
		g.TerminationConfig = map[string]any{"max_messages": "ten"}

		res := newTestOrchestrator(store, &scriptedProvider{}, nil).Run(context.Background(), newRunInput(t, store, g, "go"))

		if res.State != groupchat.RunFailed || !strings.Contains(res.Error, "configuration error") {
			t.Fatalf("result = %s %q", res.State, res.Error)
		}
	})
}

func TestOrchestrator_DefaultModelAndPrompt(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"alice", "bob"} {
		a, _ := store.CreateAgent(ctx, agent.CreateRequest{
			Name: name, Type: "assistant", Status: agent.StatusActive,
			InitialConfig: map[string]any{"temperature": 0.3},
		})
		ids = append(ids, a.ID)
	}
	g, _ := store.CreateGroupChat(ctx, groupchat.CreateRequest{
		Title: "t", SelectionStrategy: groupchat.StrategyRoundRobin, MaxRounds: 1, ParticipantAgentIDs: ids,
	})
	provider := &scriptedProvider{}
	cfg := &config.Orchestrator{DefaultSystemPrompt: "Be helpful."}

	t.Run("no default model", func(t *testing.T) {
		res := NewOrchestrator(store, provider, nil, cfg, "").Run(ctx, newRunInput(t, store, g, "go"))
		if res.State != groupchat.RunFailed || !strings.Contains(res.Error, "no model") {
			t.Fatalf("result = %s %q", res.State, res.Error)
		}
	})

	t.Run("fallbacks applied", func(t *testing.T) {
		res := NewOrchestrator(store, provider, nil, cfg, "fallback-model").Run(ctx, newRunInput(t, store, g, "go"))
		if res.State != groupchat.RunCompleted {
			t.Fatalf("state = %s (%s)", res.State, res.Error)
		}
		reqs := provider.requests()
		last := reqs[len(reqs)-1]
		if last.Model != "fallback-model" || last.SystemPrompt != "Be helpful." {
			t.Errorf("request = %q/%q", last.Model, last.SystemPrompt)
		}
		if last.Temperature == nil || *last.Temperature != 0.3 {
			t.Errorf("temperature = %v, want 0.3", last.Temperature)
		}
	})
}

func TestOrchestrator_PinnedVersion(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 1, "alice", "bob")
	alice := g.Participants[0].AgentID
	pinned, err := store.CreateVersion(ctx, alice, agent.CreateVersionRequest{
		Version: "2.0.0",
		Config:  map[string]any{"system_message": "You are alice v2.", "model": "pinned-model"},
	})
	if err != nil {
		t.Fatal(err)
	}
	g.Participants[0].AgentVersionID = pinned.ID
	provider := &scriptedProvider{}

	newTestOrchestrator(store, provider, nil).Run(ctx, newRunInput(t, store, g, "go"))

	reqs := provider.requests()
	if len(reqs) != 1 || reqs[0].Model != "pinned-model" || reqs[0].SystemPrompt != "You are alice v2." {
		t.Fatalf("requests = %+v, want the pinned configuration", reqs)
	}
}

func TestOrchestrator_RecordsUsage(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()
	hub := &recordingHub{}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 2, "alice", "bob")
	now := time.Now().UTC()
	for _, typ := range []string{quota.TypeAPICall, quota.TypeTokenUsage, quota.TypeCost} {
		if _, err := store.ProvisionQuota(ctx, quota.ProvisionRequest{UserID: "u1", QuotaType: typ, Limit: 1000, ResetPeriod: period.Month}, now); err != nil {
			t.Fatal(err)
		}
	}
	orch := newTestOrchestrator(store, &scriptedProvider{}, hub)
	orch.SetRecorders(NewMetricService(store), NewPerformanceService(store), NewQuotaService(store))
	orch.SetExecutionLogs(NewExecutionLogService(store, hub))
	in := newRunInput(t, store, g, "go")
	in.UserID = "u1"

	res := orch.Run(ctx, in)
	if res.State != groupchat.RunCompleted {
		t.Fatalf("state = %s (%s)", res.State, res.Error)
	}

	for typ, want := range map[string]float64{quota.TypeAPICall: 2, quota.TypeTokenUsage: 30, quota.TypeCost: 0.02} {
		q, _ := store.GetQuota(ctx, "u1", typ)
		if math.Abs(q.Used-want) > 1e-9 {
			t.Errorf("%s used = %v, want %v", typ, q.Used, want)
		}
	}

	totals, _ := store.MetricTotals(ctx, analytics.Filter{UserID: "u1"})
	if totals.APICalls != 2 || totals.TotalTokens != 30 || math.Abs(totals.TotalCost-0.02) > 1e-9 {
		t.Errorf("totals = %+v", totals)
	}

	stats, _ := store.PerformanceStatistics(ctx, performance.Filter{Operation: turnOperation})
	if stats.TotalCount != 2 || stats.SuccessCount != 2 {
		t.Errorf("performance = %+v", stats)
	}

	logStats, _ := store.LogStats(ctx, in.ConversationID)
	if logStats.ByEventType[string(execlog.EventLLMCall)] != 2 {
		t.Errorf("llm_call logs = %d, want 2", logStats.ByEventType[string(execlog.EventLLMCall)])
	}
	if logStats.ByEventType[string(execlog.EventSystem)] != 2 {
		t.Errorf("system logs = %d, want start and finish", logStats.ByEventType[string(execlog.EventSystem)])
	}
	if n := len(hub.ofType(broadcast.EventLog)); n != int(logStats.TotalLogs) {
		t.Errorf("log broadcasts = %d, want %d", n, logStats.TotalLogs)
	}
}

func TestOrchestrator_BroadcastsStateTransitions(t *testing.T) {
	store := newMockStore()
	hub := &recordingHub{}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 2, "alice", "bob")
	in := newRunInput(t, store, g, "go")

	newTestOrchestrator(store, &scriptedProvider{}, hub).Run(context.Background(), in)

	states := hub.ofType(broadcast.EventRunState)
	var got []string
	for _, e := range states {
		if e.ConversationID != in.ConversationID {
			t.Errorf("event for conversation %s", e.ConversationID)
		}
		got = append(got, string(e.Payload.(runStateEvent).State))
	}
	if strings.Join(got, ",") != "initializing,running,completed" {
		t.Errorf("states = %v", got)
	}
	if last := states[len(states)-1].Payload.(runStateEvent); last.Turns != 2 {
		t.Errorf("final turns = %d, want 2", last.Turns)
	}
	msgs := hub.ofType(broadcast.EventMessage)
	if len(msgs) != 2 {
		t.Fatalf("message events = %d, want 2", len(msgs))
	}
	if turn := msgs[1].Payload.(groupchat.Turn); turn.Speaker != "bob" || turn.Index != 2 {
		t.Errorf("second turn = %+v", turn)
	}
}

// blockingProvider holds every call until its context ends.
type blockingProvider struct {
	started chan struct{}
}

func (p *blockingProvider) Complete(ctx context.Context, _ completion.Request) (*completion.Response, error) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_ShutdownCancelsRuns(t *testing.T) {
	store := newMockStore()
	hub := &recordingHub{}
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 3, "alice", "bob")
	in := newRunInput(t, store, g, "go")
	provider := &blockingProvider{started: make(chan struct{}, 1)}
	orch := NewOrchestrator(store, provider, hub, &config.Orchestrator{}, "")

	orch.Dispatch(context.Background(), in)
	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never called the provider")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	conv, _ := store.GetConversation(context.Background(), in.ConversationID)
	if conv.Status != conversation.StatusCompleted {
		t.Errorf("conversation status = %s, want completed", conv.Status)
	}
	states := hub.ofType(broadcast.EventRunState)
	if last := states[len(states)-1].Payload.(runStateEvent); last.State != groupchat.RunFailed {
		t.Errorf("final state = %s, want failed", last.State)
	}
}

func TestOrchestrator_DispatchOutlivesRequestContext(t *testing.T) {
	store := newMockStore()
	g := seedGroupChat(t, store, groupchat.StrategyRoundRobin, 2, "alice", "bob")
	in := newRunInput(t, store, g, "go")
	orch := newTestOrchestrator(store, &scriptedProvider{}, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	orch.Dispatch(reqCtx, in)
	cancel()
	orch.Wait()

	msgs, _ := store.ListMessages(context.Background(), in.ConversationID)
	if len(msgs) != 3 {
		t.Fatalf("stored messages = %d, want 3", len(msgs))
	}
}
