// Package groupchat defines multi-agent group chats, their participants,
// and the state of an orchestrated run.
package groupchat

import (
	"errors"
	"fmt"
	"time"
)

// Strategy selects how the next speaker is chosen each round.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategySelector   Strategy = "selector"
	StrategySwarm      Strategy = "swarm"
)

// ValidStrategy reports whether s is a supported selection strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyRoundRobin, StrategySelector, StrategySwarm:
		return true
	}
	return false
}

// Status is the lifecycle state of a group chat.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Round limits.
const (
	DefaultMaxRounds = 10
	MaxRoundsCeiling = 100
	MinParticipants  = 2
)

// GroupChat is a configured multi-agent conversation template.
type GroupChat struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	SelectionStrategy    Strategy       `json:"selection_strategy"`
	MaxRounds            int            `json:"max_rounds"`
	AllowRepeatedSpeaker bool           `json:"allow_repeated_speaker"`
	TerminationConfig    map[string]any `json:"termination_config,omitempty"`
	Status               Status         `json:"status"`
	Participants         []Participant  `json:"participants,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Participant binds an agent to a group chat.
type Participant struct {
	ID             string         `json:"id"`
	GroupChatID    string         `json:"group_chat_id"`
	AgentID        string         `json:"agent_id"`
	AgentVersionID string         `json:"agent_version_id,omitempty"`
	SpeakingOrder  *int           `json:"speaking_order,omitempty"`
	Constraints    map[string]any `json:"constraints,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MaxTurns returns the per-participant turn cap from constraints, or 0 for none.
func (p *Participant) MaxTurns() int {
	if p.Constraints == nil {
		return 0
	}
	switch v := p.Constraints["max_turns"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// ConversationLink ties a group chat to one of its conversations.
type ConversationLink struct {
	ID               string    `json:"id"`
	GroupChatID      string    `json:"group_chat_id"`
	ConversationID   string    `json:"conversation_id"`
	RoundNumber      int       `json:"round_number"`
	CurrentSpeakerID string    `json:"current_speaker_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to create a group chat.
type CreateRequest struct {
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	SelectionStrategy    Strategy       `json:"selection_strategy"`
	MaxRounds            int            `json:"max_rounds"`
	AllowRepeatedSpeaker bool           `json:"allow_repeated_speaker"`
	TerminationConfig    map[string]any `json:"termination_config,omitempty"`
	ParticipantAgentIDs  []string       `json:"participant_agent_ids"`
}

// Validate checks the request, fills defaults, and rejects unsupported
// strategies so invalid chats never reach a run.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return errors.New("title is required")
	}
	if r.SelectionStrategy == "" {
		r.SelectionStrategy = StrategySelector
	}
	if !ValidStrategy(r.SelectionStrategy) {
		return fmt.Errorf("unsupported selection strategy %q", r.SelectionStrategy)
	}
	if r.MaxRounds == 0 {
		r.MaxRounds = DefaultMaxRounds
	}
	if err := validateMaxRounds(r.MaxRounds); err != nil {
		return err
	}
	if _, err := ParseTermination(r.TerminationConfig); err != nil {
		return err
	}

	seen := make(map[string]bool, len(r.ParticipantAgentIDs))
	for _, id := range r.ParticipantAgentIDs {
		if id == "" {
			return errors.New("participant agent id must not be empty")
		}
		if seen[id] {
			return fmt.Errorf("duplicate participant agent id %s", id)
		}
		seen[id] = true
	}
	if len(seen) < MinParticipants {
		return fmt.Errorf("a group chat requires at least %d distinct participants", MinParticipants)
	}
	return nil
}

// UpdateRequest holds optional fields for a partial group-chat update.
type UpdateRequest struct {
	Title                *string        `json:"title,omitempty"`
	Description          *string        `json:"description,omitempty"`
	SelectionStrategy    *Strategy      `json:"selection_strategy,omitempty"`
	MaxRounds            *int           `json:"max_rounds,omitempty"`
	AllowRepeatedSpeaker *bool          `json:"allow_repeated_speaker,omitempty"`
	TerminationConfig    map[string]any `json:"termination_config,omitempty"`
	Status               *Status        `json:"status,omitempty"`
}

// Apply validates r and copies its non-nil fields onto g.
func (r *UpdateRequest) Apply(g *GroupChat) error {
	if r.Title != nil {
		if *r.Title == "" {
			return errors.New("title must not be empty")
		}
		g.Title = *r.Title
	}
	if r.Description != nil {
		g.Description = *r.Description
	}
	if r.SelectionStrategy != nil {
		if !ValidStrategy(*r.SelectionStrategy) {
			return fmt.Errorf("unsupported selection strategy %q", *r.SelectionStrategy)
		}
		g.SelectionStrategy = *r.SelectionStrategy
	}
	if r.MaxRounds != nil {
		if err := validateMaxRounds(*r.MaxRounds); err != nil {
			return err
		}
		g.MaxRounds = *r.MaxRounds
	}
	if r.AllowRepeatedSpeaker != nil {
		g.AllowRepeatedSpeaker = *r.AllowRepeatedSpeaker
	}
	if r.TerminationConfig != nil {
		if _, err := ParseTermination(r.TerminationConfig); err != nil {
			return err
		}
		g.TerminationConfig = r.TerminationConfig
	}
	if r.Status != nil {
		if *r.Status != StatusActive && *r.Status != StatusArchived {
			return fmt.Errorf("invalid status %q", *r.Status)
		}
		g.Status = *r.Status
	}
	return nil
}

func validateMaxRounds(n int) error {
	if n < 1 || n > MaxRoundsCeiling {
		return fmt.Errorf("max_rounds must be between 1 and %d", MaxRoundsCeiling)
	}
	return nil
}

// AddParticipantRequest adds one agent to an existing group chat.
type AddParticipantRequest struct {
	AgentID        string         `json:"agent_id"`
	AgentVersionID string         `json:"agent_version_id,omitempty"`
	SpeakingOrder  *int           `json:"speaking_order,omitempty"`
	Constraints    map[string]any `json:"constraints,omitempty"`
}

// Validate checks that an AddParticipantRequest is well-formed.
func (r *AddParticipantRequest) Validate() error {
	if r.AgentID == "" {
		return errors.New("agent_id is required")
	}
	if r.SpeakingOrder != nil && *r.SpeakingOrder < 0 {
		return errors.New("speaking_order must be >= 0")
	}
	return nil
}

// StartRequest begins a run with an initial message.
type StartRequest struct {
	InitialMessage string `json:"initial_message"`
	SenderType     string `json:"sender_type"`
}

// Validate checks the request and defaults the sender role to "user".
func (r *StartRequest) Validate() error {
	if r.InitialMessage == "" {
		return errors.New("initial_message is required")
	}
	if r.SenderType == "" {
		r.SenderType = "user"
	}
	return nil
}
