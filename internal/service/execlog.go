package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/broadcast"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

const exportPageSize = 1000

// ExecutionLogService stores structured execution logs and streams new
// lines to conversation log subscribers.
type ExecutionLogService struct {
	store database.Store
	hub   broadcast.Broadcaster
}

// NewExecutionLogService creates a new ExecutionLogService. hub may be nil.
func NewExecutionLogService(store database.Store, hub broadcast.Broadcaster) *ExecutionLogService {
	return &ExecutionLogService{store: store, hub: hub}
}

// Create writes a log line and broadcasts it.
func (s *ExecutionLogService) Create(ctx context.Context, req execlog.CreateRequest) (*execlog.Log, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	l, err := s.store.CreateLog(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, l.ConversationID, broadcast.EventLog, l)
	}
	return l, nil
}

// Track writes a log line on behalf of a background task, logging failures.
func (s *ExecutionLogService) Track(ctx context.Context, req execlog.CreateRequest) {
	if s == nil {
		return
	}
	if _, err := s.Create(ctx, req); err != nil {
		slog.Warn("execution log write failed", "conversation_id", req.ConversationID, "error", err)
	}
}

func (s *ExecutionLogService) Get(ctx context.Context, id string) (*execlog.Log, error) {
	return s.store.GetLog(ctx, id)
}

// List returns the conversation's logs newest first.
func (s *ExecutionLogService) List(ctx context.Context, conversationID string, f execlog.Filter) ([]execlog.Log, error) {
	if f.Level != "" && !execlog.ValidLevel(f.Level) {
		return nil, invalid(fmt.Errorf("invalid level %q", f.Level))
	}
	if f.EventType != "" && !execlog.ValidEventType(f.EventType) {
		return nil, invalid(fmt.Errorf("invalid event_type %q", f.EventType))
	}
	f.Normalize()
	return s.store.ListLogs(ctx, conversationID, f)
}

func (s *ExecutionLogService) Stats(ctx context.Context, conversationID string) (*execlog.Stats, error) {
	return s.store.LogStats(ctx, conversationID)
}

// Export renders every log of the conversation oldest first.
func (s *ExecutionLogService) Export(ctx context.Context, conversationID string, format execlog.Format) ([]byte, error) {
	var all []execlog.Log
	for offset := 0; ; offset += exportPageSize {
		page, err := s.store.ListLogs(ctx, conversationID, execlog.Filter{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list logs: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}
	slices.Reverse(all)
	return execlog.Export(all, format)
}

// Delete removes every log of the conversation and returns how many went.
func (s *ExecutionLogService) Delete(ctx context.Context, conversationID string) (int64, error) {
	return s.store.DeleteLogs(ctx, conversationID)
}
