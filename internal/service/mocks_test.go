package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/broadcast"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/completion"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

// scriptedProvider answers turn requests with reply and selector requests
// with selectorAnswer. Calls are recorded.
type scriptedProvider struct {
	mu    sync.Mutex
	calls []completion.Request

	reply          func(n int, req completion.Request) (string, error)
	selectorAnswer func(req completion.Request) (string, error)
	turns          int
}

// speakerOf extracts the agent name from the "You are <name>." system
// prompts used by the fixtures.
func speakerOf(req completion.Request) string {
	s := strings.TrimPrefix(req.SystemPrompt, "You are ")
	return strings.TrimSuffix(s, ".")
}

func (p *scriptedProvider) Complete(_ context.Context, req completion.Request) (*completion.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	isSelector := req.MaxTokens == 32
	n := 0
	if !isSelector {
		p.turns++
		n = p.turns
	}
	p.mu.Unlock()

	if isSelector {
		if p.selectorAnswer == nil {
			return &completion.Response{Content: ""}, nil
		}
		answer, err := p.selectorAnswer(req)
		if err != nil {
			return nil, err
		}
		return &completion.Response{Content: answer}, nil
	}

	content := "reply " + speakerOf(req)
	if p.reply != nil {
		var err error
		content, err = p.reply(n, req)
		if err != nil {
			return nil, err
		}
	}
	return &completion.Response{Content: content, Model: req.Model, TokensIn: 10, TokensOut: 5, CostUSD: 0.01}, nil
}

func (p *scriptedProvider) turnCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turns
}

func (p *scriptedProvider) requests() []completion.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]completion.Request(nil), p.calls...)
}

type hubEvent struct {
	ConversationID string
	EventType      string
	Payload        any
}

// recordingHub collects broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *recordingHub) BroadcastEvent(_ context.Context, conversationID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{ConversationID: conversationID, EventType: eventType, Payload: payload})
}

func (h *recordingHub) ofType(eventType string) []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubEvent
	for _, e := range h.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// recordingQueue is an in-memory messagequeue.Queue. Publish delivers
// synchronously to subscribers; failPublish makes it reject everything.
type recordingQueue struct {
	mu          sync.Mutex
	published   map[string][][]byte
	handlers    map[string]messagequeue.Handler
	failPublish bool
}

var _ messagequeue.Queue = (*recordingQueue)(nil)

func (q *recordingQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	if q.failPublish {
		q.mu.Unlock()
		return errors.New("queue unavailable")
	}
	if q.published == nil {
		q.published = make(map[string][][]byte)
	}
	q.published[subject] = append(q.published[subject], data)
	h := q.handlers[subject]
	q.mu.Unlock()
	if h != nil {
		return h(ctx, subject, data)
	}
	return nil
}

func (q *recordingQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *recordingQueue) Drain() error      { return nil }
func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }

func (q *recordingQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

func (q *recordingQueue) decode(t *testing.T, subject string, i int, dst any) {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if i >= len(q.published[subject]) {
		t.Fatalf("no message %d on %s", i, subject)
	}
	if err := json.Unmarshal(q.published[subject][i], dst); err != nil {
		t.Fatalf("decode %s: %v", subject, err)
	}
}

// --- fixtures ---

// seedAgent creates an agent whose current version answers as name.
func seedAgent(t *testing.T, store *mockStore, name string) *agent.Agent {
	t.Helper()
	a, err := store.CreateAgent(context.Background(), agent.CreateRequest{
		Name:   name,
		Type:   "assistant",
		Status: agent.StatusActive,
		Tags:   map[string]string{},
		InitialConfig: map[string]any{
			"system_message": "You are " + name + ".",
			"model":          "test-model",
		},
	})
	if err != nil {
		t.Fatalf("seed agent %s: %v", name, err)
	}
	return a
}

// seedGroupChat creates agents named after names and a chat over them.
func seedGroupChat(t *testing.T, store *mockStore, strategy groupchat.Strategy, maxRounds int, names ...string) *groupchat.GroupChat {
	t.Helper()
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = seedAgent(t, store, n).ID
	}
	g, err := store.CreateGroupChat(context.Background(), groupchat.CreateRequest{
		Title:               "design review",
		SelectionStrategy:   strategy,
		MaxRounds:           maxRounds,
		ParticipantAgentIDs: ids,
	})
	if err != nil {
		t.Fatalf("seed group chat: %v", err)
	}
	return g
}

func newTestOrchestrator(store *mockStore, provider completion.Provider, hub *recordingHub) *Orchestrator {
	var b broadcast.Broadcaster
	if hub != nil {
		b = hub
	}
	return NewOrchestrator(store, provider, b, &config.Orchestrator{MaxConcurrentRuns: 2}, "")
}
