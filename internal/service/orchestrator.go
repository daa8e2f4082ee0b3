package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	cfotel "github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/otel"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/logger"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/broadcast"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/completion"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

const (
	defaultMaxConcurrentRuns = 8
	finalizeTimeout          = 30 * time.Second
	turnOperation            = "groupchat.turn"
)

// RunInput describes one group-chat run.
type RunInput struct {
	GroupChat      *groupchat.GroupChat
	ConversationID string
	Initial        groupchat.Turn
	// UserID is charged for the model calls of the run. May be empty.
	UserID string
}

// runStateEvent is broadcast on every state transition.
type runStateEvent struct {
	GroupChatID string             `json:"group_chat_id"`
	State       groupchat.RunState `json:"state"`
	Reason      string             `json:"reason,omitempty"`
	Turns       int                `json:"turns"`
	Error       string             `json:"error,omitempty"`
}

// Orchestrator runs group chats from an initial message to a terminal
// state. Turns of one run are strictly sequential; runs execute in the
// background, bounded by a semaphore.
type Orchestrator struct {
	store        database.Store
	provider     completion.Provider
	hub          broadcast.Broadcaster
	cfg          *config.Orchestrator
	defaultModel string

	queue   messagequeue.Queue
	logs    *ExecutionLogService
	metrics *MetricService
	perf    *PerformanceService
	quotas  *QuotaService
	otel    *cfotel.Metrics

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	stopCtx context.Context
	stop    context.CancelFunc
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator. provider may be nil, in which
// case every run fails with a configuration error.
func NewOrchestrator(store database.Store, provider completion.Provider, hub broadcast.Broadcaster, cfg *config.Orchestrator, defaultModel string) *Orchestrator {
	limit := cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = defaultMaxConcurrentRuns
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:        store,
		provider:     provider,
		hub:          hub,
		cfg:          cfg,
		defaultModel: defaultModel,
		sem:          semaphore.NewWeighted(limit),
		stopCtx:      stopCtx,
		stop:         stop,
		now:          clock,
	}
}

// SetQueue enables run lifecycle events on the message queue.
func (o *Orchestrator) SetQueue(q messagequeue.Queue) { o.queue = q }

// SetExecutionLogs enables execution log lines for runs.
func (o *Orchestrator) SetExecutionLogs(l *ExecutionLogService) { o.logs = l }

// SetRecorders enables per-turn usage, timing, and quota accounting.
func (o *Orchestrator) SetRecorders(metrics *MetricService, perf *PerformanceService, quotas *QuotaService) {
	o.metrics = metrics
	o.perf = perf
	o.quotas = quotas
}

// SetMetrics attaches the OpenTelemetry instruments.
func (o *Orchestrator) SetMetrics(m *cfotel.Metrics) { o.otel = m }

// Dispatch starts the run in the background and returns immediately. The
// run outlives the request context but not Shutdown.
func (o *Orchestrator) Dispatch(ctx context.Context, in RunInput) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("group chat run panicked", "group_chat_id", in.GroupChat.ID, "conversation_id", in.ConversationID, "panic", r)
			}
		}()

		var (
			runCtx context.Context
			cancel context.CancelFunc
		)
		if o.cfg.RunTimeout > 0 {
			runCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RunTimeout)
		} else {
			runCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
		}
		defer cancel()
		stopAfter := context.AfterFunc(o.stopCtx, cancel)
		defer stopAfter()

		if err := o.sem.Acquire(runCtx, 1); err != nil {
			res := o.newResult(in)
			o.finish(runCtx, in, &res, o.now(), fmt.Errorf("wait for run slot: %w", err))
			return
		}
		defer o.sem.Release(1)

		o.Run(runCtx, in)
	}()
}

// Shutdown cancels in-flight runs and waits for them to record their
// outcome, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every dispatched run has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) newResult(in RunInput) groupchat.RunResult {
	return groupchat.RunResult{
		GroupChatID:    in.GroupChat.ID,
		ConversationID: in.ConversationID,
		State:          groupchat.RunInitializing,
		Turns:          []groupchat.Turn{in.Initial},
	}
}

// Run executes one run synchronously. It always reaches a terminal state
// within MaxRounds turns. Produced turns are persisted in one atomic
// append, including the turns produced before a mid-run failure.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) groupchat.RunResult {
	g := in.GroupChat
	ctx = logger.WithRun(ctx, g.ID, in.ConversationID)
	ctx, span := cfotel.StartRunSpan(ctx, g.ID, in.ConversationID, string(g.SelectionStrategy))
	defer span.End()

	started := o.now()
	res := o.newResult(in)
	o.announce(ctx, &res)

	speakers, err := o.resolveSpeakers(ctx, g)
	if err != nil {
		return o.finish(ctx, in, &res, started, err)
	}
	term, err := groupchat.ParseTermination(g.TerminationConfig)
	if err != nil {
		return o.finish(ctx, in, &res, started, fmt.Errorf("%w: %w", domain.ErrConfiguration, err))
	}
	sel, err := newSpeakerSelector(g.SelectionStrategy, o.provider, o.defaultModel)
	if err != nil {
		return o.finish(ctx, in, &res, started, err)
	}

	names := make([]string, len(speakers))
	for i, sp := range speakers {
		names[i] = sp.name
	}
	publishJSON(ctx, o.queue, messagequeue.SubjectRunStarted, messagequeue.RunStartedPayload{
		GroupChatID:    g.ID,
		ConversationID: in.ConversationID,
		Strategy:       string(g.SelectionStrategy),
		MaxRounds:      g.MaxRounds,
		Participants:   names,
	})
	o.otel.RunStarted(ctx, string(g.SelectionStrategy))
	o.logs.Track(ctx, execlog.CreateRequest{
		ConversationID: in.ConversationID,
		EventType:      execlog.EventSystem,
		Level:          execlog.LevelInfo,
		Content:        fmt.Sprintf("group chat %q started with %d participants", g.Title, len(speakers)),
		Data:           map[string]any{"group_chat_id": g.ID, "strategy": string(g.SelectionStrategy), "max_rounds": g.MaxRounds},
	})

	res.State = groupchat.RunRunning
	o.announce(ctx, &res)

	err = o.converse(ctx, in, speakers, sel, term, &res)
	return o.finish(ctx, in, &res, started, err)
}

// converse produces turns until the round limit, the termination policy,
// or an error ends the run.
func (o *Orchestrator) converse(ctx context.Context, in RunInput, speakers []*speaker, sel speakerSelector, term groupchat.Termination, res *groupchat.RunResult) error {
	g := in.GroupChat
	st := newSelectionState(speakers, res.Turns, g.AllowRepeatedSpeaker)

	for round := 1; round <= g.MaxRounds; round++ {
		idx, err := sel.next(ctx, st)
		if err != nil {
			return err
		}
		if idx < 0 {
			res.State = groupchat.RunCompleted
			res.Reason = "no eligible speaker"
			return nil
		}

		turn, err := o.takeTurn(ctx, in, st, idx, round)
		if err != nil {
			return err
		}
		st.record(idx, turn)
		res.Turns = st.transcript

		if stop, reason := term.Evaluate(res.Turns); stop {
			res.State = groupchat.RunTerminatedByPolicy
			res.Reason = reason
			return nil
		}
	}
	res.State = groupchat.RunCompleted
	res.Reason = fmt.Sprintf("max_rounds %d reached", g.MaxRounds)
	return nil
}

// takeTurn asks one speaker for its message given the full transcript.
func (o *Orchestrator) takeTurn(ctx context.Context, in RunInput, st *selectionState, idx, round int) (groupchat.Turn, error) {
	sp := st.speakers[idx]
	ctx, span := cfotel.StartTurnSpan(ctx, round, sp.name)
	defer span.End()

	callCtx := ctx
	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	begin := time.Now()
	resp, err := o.provider.Complete(callCtx, completion.Request{
		Model:        sp.model,
		SystemPrompt: sp.systemPrompt,
		Messages:     transcriptMessages(st.transcript, sp.agent.ID),
		Temperature:  sp.temperature,
	})
	elapsed := time.Since(begin)
	o.trackTurn(ctx, in, sp, round, resp, elapsed, err)
	if err != nil {
		span.RecordError(err)
		return groupchat.Turn{}, fmt.Errorf("%w: %s in round %d: %w", domain.ErrProvider, sp.name, round, err)
	}

	msgType := groupchat.MessageTypeText
	if in.GroupChat.SelectionStrategy == groupchat.StrategySwarm && parseHandoff(resp.Content) != "" {
		msgType = groupchat.MessageTypeHandoff
	}
	turn := groupchat.Turn{
		Index:       len(st.transcript),
		AgentID:     sp.agent.ID,
		Speaker:     sp.name,
		Role:        "assistant",
		Content:     resp.Content,
		MessageType: msgType,
		CreatedAt:   o.now(),
	}

	if o.hub != nil {
		o.hub.BroadcastEvent(ctx, in.ConversationID, broadcast.EventMessage, turn)
	}
	publishJSON(ctx, o.queue, messagequeue.SubjectRunTurn, messagequeue.RunTurnPayload{
		GroupChatID:    in.GroupChat.ID,
		ConversationID: in.ConversationID,
		Index:          turn.Index,
		AgentID:        turn.AgentID,
		Speaker:        turn.Speaker,
		MessageType:    turn.MessageType,
	})
	if err := o.store.UpdateConversationLink(ctx, in.GroupChat.ID, in.ConversationID, round, sp.agent.ID); err != nil {
		slog.WarnContext(ctx, "update conversation link", "round", round, "error", err)
	}
	o.otel.TurnProduced(ctx, elapsed.Seconds())
	return turn, nil
}

// trackTurn records timing, usage, and quota consumption of one model
// call. Failures are logged by the recorders and never fail the turn.
func (o *Orchestrator) trackTurn(ctx context.Context, in RunInput, sp *speaker, round int, resp *completion.Response, elapsed time.Duration, callErr error) {
	status := performance.StatusSuccess
	errMsg := ""
	if callErr != nil {
		status = performance.StatusError
		errMsg = callErr.Error()
	}
	o.perf.Track(ctx, performance.RecordRequest{
		AgentID:        sp.agent.ID,
		ConversationID: in.ConversationID,
		Operation:      turnOperation,
		DurationMS:     float64(elapsed.Microseconds()) / 1000,
		Status:         status,
		ErrorMessage:   errMsg,
		Metadata:       map[string]any{"group_chat_id": in.GroupChat.ID, "round": round, "model": sp.model},
	})
	if callErr != nil {
		o.logs.Track(ctx, execlog.CreateRequest{
			ConversationID: in.ConversationID,
			EventType:      execlog.EventError,
			Level:          execlog.LevelError,
			AgentName:      sp.name,
			Content:        errMsg,
			Data:           map[string]any{"round": round},
		})
		return
	}

	o.logs.Track(ctx, execlog.CreateRequest{
		ConversationID: in.ConversationID,
		EventType:      execlog.EventLLMCall,
		Level:          execlog.LevelDebug,
		AgentName:      sp.name,
		Content:        fmt.Sprintf("%s answered in %d ms", resp.Model, elapsed.Milliseconds()),
		Data:           map[string]any{"round": round, "tokens_in": resp.TokensIn, "tokens_out": resp.TokensOut, "cost_usd": resp.CostUSD},
	})

	tokens := float64(resp.TokensIn + resp.TokensOut)
	usage := func(metricType, unit string, v float64) analytics.RecordRequest {
		return analytics.RecordRequest{
			UserID:         in.UserID,
			AgentID:        sp.agent.ID,
			ConversationID: in.ConversationID,
			MetricType:     metricType,
			MetricName:     "chat_completion",
			Value:          &v,
			Unit:           unit,
			Metadata:       map[string]any{"model": resp.Model, "group_chat_id": in.GroupChat.ID},
		}
	}
	o.metrics.Track(ctx, usage(analytics.MetricAPICall, "", 1))
	o.metrics.Track(ctx, usage(analytics.MetricTokenUsage, "tokens", tokens))
	if resp.CostUSD > 0 {
		o.metrics.Track(ctx, usage(analytics.MetricCost, "usd", resp.CostUSD))
	}
	o.metrics.Track(ctx, usage(analytics.MetricLatency, "ms", float64(elapsed.Milliseconds())))

	o.quotas.Consume(ctx, in.UserID, quota.TypeAPICall, 1)
	o.quotas.Consume(ctx, in.UserID, quota.TypeTokenUsage, tokens)
	o.quotas.Consume(ctx, in.UserID, quota.TypeCost, resp.CostUSD)
}

// resolveSpeakers binds every participant to its pinned or current
// version, in speaking order.
func (o *Orchestrator) resolveSpeakers(ctx context.Context, g *groupchat.GroupChat) ([]*speaker, error) {
	if o.provider == nil {
		return nil, fmt.Errorf("%w: no completion provider available", domain.ErrConfiguration)
	}
	parts := orderedParticipants(g.Participants)
	if len(parts) < groupchat.MinParticipants {
		return nil, fmt.Errorf("%w: group chat has %d participants, need %d", domain.ErrConfiguration, len(parts), groupchat.MinParticipants)
	}

	out := make([]*speaker, 0, len(parts))
	for _, p := range parts {
		a, err := o.store.GetAgent(ctx, p.AgentID)
		if err != nil {
			return nil, fmt.Errorf("%w: participant agent %s: %w", domain.ErrConfiguration, p.AgentID, err)
		}
		v, err := o.participantVersion(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%w: configuration of agent %s: %w", domain.ErrConfiguration, a.Name, err)
		}

		sp := &speaker{participant: p, agent: a, version: v, name: a.Name}
		sp.systemPrompt = v.SystemMessage()
		if sp.systemPrompt == "" {
			sp.systemPrompt = o.cfg.DefaultSystemPrompt
			slog.WarnContext(ctx, "participant has no system message",
				"agent_id", a.ID, "version", v.Version, "default_applied", sp.systemPrompt != "")
		}
		sp.model = v.Model()
		if sp.model == "" {
			sp.model = o.defaultModel
		}
		if sp.model == "" {
			return nil, fmt.Errorf("%w: agent %s has no model and no default is configured", domain.ErrConfiguration, a.Name)
		}
		if t, ok := v.Temperature(); ok {
			sp.temperature = &t
		}
		out = append(out, sp)
	}
	return out, nil
}

func (o *Orchestrator) participantVersion(ctx context.Context, p groupchat.Participant) (*agent.Version, error) {
	if p.AgentVersionID != "" {
		return o.store.GetVersion(ctx, p.AgentID, p.AgentVersionID)
	}
	return o.store.GetCurrentVersion(ctx, p.AgentID)
}

// finish settles the run: it persists produced turns, completes the
// conversation, and reports the outcome.
func (o *Orchestrator) finish(ctx context.Context, in RunInput, res *groupchat.RunResult, started time.Time, runErr error) groupchat.RunResult {
	// The run context may already be cancelled or past its deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if runErr != nil {
		res.State = groupchat.RunFailed
		res.Error = runErr.Error()
	}

	generated := res.GeneratedTurns()
	persisted := 0
	if len(generated) > 0 {
		if err := o.persist(ctx, in, generated); err != nil {
			slog.ErrorContext(ctx, "persist group chat transcript", "turns", len(generated), "error", err)
			res.State = groupchat.RunFailed
			if res.Error == "" {
				res.Error = "persist transcript: " + err.Error()
			}
		} else {
			persisted = len(generated)
		}
	}

	if err := o.store.CompleteConversation(ctx, in.ConversationID, o.now()); err != nil {
		slog.WarnContext(ctx, "complete conversation", "error", err)
	}

	level, eventType, content := execlog.LevelInfo, execlog.EventSystem, fmt.Sprintf("run %s: %s", res.State, res.Reason)
	subject := messagequeue.SubjectRunCompleted
	if res.State == groupchat.RunFailed {
		level, eventType, content = execlog.LevelError, execlog.EventError, "run failed: "+res.Error
		subject = messagequeue.SubjectRunFailed
		if o.hub != nil {
			o.hub.BroadcastEvent(ctx, in.ConversationID, broadcast.EventRunFailed, map[string]string{"error": res.Error})
		}
	}
	o.logs.Track(ctx, execlog.CreateRequest{
		ConversationID: in.ConversationID,
		EventType:      eventType,
		Level:          level,
		Content:        content,
		Data:           map[string]any{"group_chat_id": in.GroupChat.ID, "turns": len(generated), "persisted": persisted},
	})
	o.announce(ctx, res)
	publishJSON(ctx, o.queue, subject, messagequeue.RunFinishedPayload{
		GroupChatID:    in.GroupChat.ID,
		ConversationID: in.ConversationID,
		State:          string(res.State),
		Reason:         res.Reason,
		Turns:          len(generated),
		Persisted:      persisted,
		Error:          res.Error,
	})

	elapsed := o.now().Sub(started)
	o.otel.RunFinished(ctx, string(res.State), elapsed.Seconds())

	attrs := []any{"run_state", res.State, "turns", len(generated), "persisted", persisted, "duration_ms", elapsed.Milliseconds()}
	switch {
	case res.State == groupchat.RunFailed && errors.Is(runErr, domain.ErrConfiguration):
		slog.ErrorContext(ctx, "group chat run misconfigured", append(attrs, "error", res.Error)...)
	case res.State == groupchat.RunFailed:
		slog.ErrorContext(ctx, "group chat run failed", append(attrs, "error", res.Error)...)
	default:
		slog.InfoContext(ctx, "group chat run finished", append(attrs, "reason", res.Reason)...)
	}
	return *res
}

// persist appends the generated turns in one transaction. Creation times
// are left to the store so they order after the initial message.
func (o *Orchestrator) persist(ctx context.Context, in RunInput, turns []groupchat.Turn) error {
	msgs := make([]conversation.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, conversation.Message{
			ConversationID: in.ConversationID,
			Role:           t.Role,
			Content:        t.Content,
			ExtraData: map[string]any{
				conversation.ExtraAgentName:   t.Speaker,
				conversation.ExtraMessageType: t.MessageType,
				conversation.ExtraGroupChatID: in.GroupChat.ID,
			},
		})
	}
	return o.store.AppendMessages(ctx, in.ConversationID, msgs)
}

func (o *Orchestrator) announce(ctx context.Context, res *groupchat.RunResult) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastEvent(ctx, res.ConversationID, broadcast.EventRunState, runStateEvent{
		GroupChatID: res.GroupChatID,
		State:       res.State,
		Reason:      res.Reason,
		Turns:       len(res.Turns) - 1,
		Error:       res.Error,
	})
}
