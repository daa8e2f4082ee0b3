package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// GroupChatService manages group chats and starts their runs.
type GroupChatService struct {
	store  database.Store
	orch   *Orchestrator
	quotas *QuotaService
}

// NewGroupChatService creates a new GroupChatService.
func NewGroupChatService(store database.Store, orch *Orchestrator) *GroupChatService {
	return &GroupChatService{store: store, orch: orch}
}

// SetQuotas makes Start refuse callers whose api_call quota is exhausted.
func (s *GroupChatService) SetQuotas(q *QuotaService) { s.quotas = q }

func (s *GroupChatService) List(ctx context.Context, skip, limit int) ([]groupchat.GroupChat, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.ListGroupChats(ctx, skip, limit)
}

// Get returns a group chat with its participants.
func (s *GroupChatService) Get(ctx context.Context, id string) (*groupchat.GroupChat, error) {
	return s.store.GetGroupChat(ctx, id)
}

// Create validates the configuration, including the strategy, and checks
// that every participant agent exists.
func (s *GroupChatService) Create(ctx context.Context, req groupchat.CreateRequest) (*groupchat.GroupChat, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	for _, id := range req.ParticipantAgentIDs {
		if _, err := s.store.GetAgent(ctx, id); err != nil {
			return nil, fmt.Errorf("participant agent %s: %w", id, err)
		}
	}
	g, err := s.store.CreateGroupChat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create group chat: %w", err)
	}
	return g, nil
}

// Update changes the chat settings. Participants are managed separately.
func (s *GroupChatService) Update(ctx context.Context, id string, req groupchat.UpdateRequest) (*groupchat.GroupChat, error) {
	g, err := s.store.GetGroupChat(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.Apply(g); err != nil {
		return nil, invalid(err)
	}
	if err := s.store.UpdateGroupChat(ctx, g); err != nil {
		return nil, fmt.Errorf("update group chat: %w", err)
	}
	return s.store.GetGroupChat(ctx, id)
}

func (s *GroupChatService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteGroupChat(ctx, id)
}

// ListParticipants returns the participants in speaking order.
func (s *GroupChatService) ListParticipants(ctx context.Context, id string) ([]groupchat.Participant, error) {
	if _, err := s.store.GetGroupChat(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, id)
}

// AddParticipant binds an existing agent to the chat. Adding the same
// agent twice is a conflict.
func (s *GroupChatService) AddParticipant(ctx context.Context, id string, req groupchat.AddParticipantRequest) (*groupchat.Participant, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.store.GetGroupChat(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAgent(ctx, req.AgentID); err != nil {
		return nil, fmt.Errorf("agent %s: %w", req.AgentID, err)
	}
	if req.AgentVersionID != "" {
		if _, err := s.store.GetVersion(ctx, req.AgentID, req.AgentVersionID); err != nil {
			return nil, fmt.Errorf("agent version %s: %w", req.AgentVersionID, err)
		}
	}
	p, err := s.store.AddParticipant(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	return p, nil
}

// RemoveParticipant unbinds an agent. The chat keeps at least two participants.
func (s *GroupChatService) RemoveParticipant(ctx context.Context, id, agentID string) error {
	return s.store.RemoveParticipant(ctx, id, agentID)
}

// ListMessages returns the messages of every conversation of the chat in
// creation order.
func (s *GroupChatService) ListMessages(ctx context.Context, id string) ([]conversation.Message, error) {
	if _, err := s.store.GetGroupChat(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListGroupChatMessages(ctx, id)
}

// ListConversations returns the conversations started from the chat.
func (s *GroupChatService) ListConversations(ctx context.Context, id string) ([]groupchat.ConversationLink, error) {
	if _, err := s.store.GetGroupChat(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListConversationLinks(ctx, id)
}

// Start creates the run's conversation and initial message, links them to
// the chat, and dispatches the run in the background. The returned
// conversation fills up as the run progresses.
func (s *GroupChatService) Start(ctx context.Context, id string, req groupchat.StartRequest, userID string) (*conversation.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	g, err := s.store.GetGroupChat(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status == groupchat.StatusArchived {
		return nil, invalid(errors.New("group chat is archived"))
	}
	if len(g.Participants) < groupchat.MinParticipants {
		return nil, invalid(fmt.Errorf("group chat needs at least %d participants", groupchat.MinParticipants))
	}
	if s.quotas != nil && userID != "" {
		check, err := s.quotas.Check(ctx, userID, quota.TypeAPICall)
		if err != nil {
			return nil, err
		}
		if check.Exceeded {
			return nil, fmt.Errorf("%w: %s quota exceeded", domain.ErrConflict, quota.TypeAPICall)
		}
	}

	first := orderedParticipants(g.Participants)[0]
	conv, err := s.store.CreateConversation(ctx, conversation.CreateRequest{
		AgentID:        first.AgentID,
		AgentVersionID: first.AgentVersionID,
		Title:          "Group Chat: " + g.Title,
		ExtraData:      map[string]any{conversation.ExtraGroupChatID: g.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	msg, err := s.store.CreateMessage(ctx, conv.ID, conversation.MessageCreateRequest{
		Role:    req.SenderType,
		Content: req.InitialMessage,
		ExtraData: map[string]any{
			conversation.ExtraMessageType: groupchat.MessageTypeInitial,
			conversation.ExtraGroupChatID: g.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create initial message: %w", err)
	}
	if _, err := s.store.CreateConversationLink(ctx, g.ID, conv.ID); err != nil {
		return nil, fmt.Errorf("link conversation: %w", err)
	}

	s.orch.Dispatch(ctx, RunInput{
		GroupChat:      g,
		ConversationID: conv.ID,
		Initial: groupchat.Turn{
			Speaker:     req.SenderType,
			Role:        req.SenderType,
			Content:     req.InitialMessage,
			MessageType: groupchat.MessageTypeInitial,
			CreatedAt:   msg.CreatedAt,
		},
		UserID: userID,
	})
	return conv, nil
}
