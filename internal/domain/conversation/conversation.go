// Package conversation defines conversations and their ordered messages.
package conversation

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Conversation is a chat thread owned by one agent.
type Conversation struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	AgentVersionID string         `json:"agent_version_id,omitempty"`
	Title          string         `json:"title"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
}

// Message is one entry of a conversation transcript. Messages of a
// conversation are totally ordered by CreatedAt.
type Message struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	Role            string         `json:"role"`
	Content         string         `json:"content"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExtraData       map[string]any `json:"extra_data,omitempty"`
}

// Extra data keys attached to orchestrated messages.
const (
	ExtraAgentName   = "agent_name"
	ExtraMessageType = "message_type"
	ExtraGroupChatID = "group_chat_id"
)

// CreateRequest is the request body for creating a conversation.
type CreateRequest struct {
	AgentID        string         `json:"agent_id"`
	AgentVersionID string         `json:"agent_version_id,omitempty"`
	Title          string         `json:"title"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
}

// Validate checks that a CreateRequest is well-formed.
func (r *CreateRequest) Validate() error {
	if r.AgentID == "" {
		return errors.New("agent_id is required")
	}
	if r.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

// MessageCreateRequest is the request body for appending a message.
type MessageCreateRequest struct {
	Role            string         `json:"role"`
	Content         string         `json:"content"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	ExtraData       map[string]any `json:"extra_data,omitempty"`
}

// Validate checks that a MessageCreateRequest is well-formed.
func (r *MessageCreateRequest) Validate() error {
	if r.Role == "" {
		return errors.New("role is required")
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// ListOptions paginates conversation listings.
type ListOptions struct {
	Skip  int
	Limit int
}
