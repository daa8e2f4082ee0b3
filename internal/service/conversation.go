package service

import (
	"context"
	"fmt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/broadcast"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// ConversationService manages conversations and their transcripts.
type ConversationService struct {
	store database.Store
	hub   broadcast.Broadcaster
}

// NewConversationService creates a new ConversationService. hub may be nil.
func NewConversationService(store database.Store, hub broadcast.Broadcaster) *ConversationService {
	return &ConversationService{store: store, hub: hub}
}

// Create starts a conversation with an agent. A pinned version must belong
// to that agent.
func (s *ConversationService) Create(ctx context.Context, req conversation.CreateRequest) (*conversation.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.store.GetAgent(ctx, req.AgentID); err != nil {
		return nil, fmt.Errorf("agent %s: %w", req.AgentID, err)
	}
	if req.AgentVersionID != "" {
		if _, err := s.store.GetVersion(ctx, req.AgentID, req.AgentVersionID); err != nil {
			return nil, fmt.Errorf("agent version %s: %w", req.AgentVersionID, err)
		}
	}
	c, err := s.store.CreateConversation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationService) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// List returns conversations, optionally narrowed to one agent, newest first.
func (s *ConversationService) List(ctx context.Context, agentID string, opts conversation.ListOptions) ([]conversation.Conversation, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 100
	}
	return s.store.ListConversations(ctx, agentID, opts)
}

func (s *ConversationService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteConversation(ctx, id)
}

// Complete marks the conversation completed and stamps its end time.
func (s *ConversationService) Complete(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := s.store.CompleteConversation(ctx, id, clock()); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, id)
}

// AddMessage appends one message and pushes it to live subscribers.
func (s *ConversationService) AddMessage(ctx context.Context, conversationID string, req conversation.MessageCreateRequest) (*conversation.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msg, err := s.store.CreateMessage(ctx, conversationID, req)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, conversationID, broadcast.EventMessage, msg)
	}
	return msg, nil
}

// ListMessages returns the transcript in creation order.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}
