package groupchat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunState is the state of an orchestrated group-chat run.
type RunState string

const (
	RunInitializing       RunState = "initializing"
	RunRunning            RunState = "running"
	RunCompleted          RunState = "completed"
	RunFailed             RunState = "failed"
	RunTerminatedByPolicy RunState = "terminated_by_policy"
)

// IsTerminal returns true for states a run never leaves.
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunTerminatedByPolicy
}

// Succeeded reports whether the terminal state counts as a normal outcome.
func (s RunState) Succeeded() bool {
	return s == RunCompleted || s == RunTerminatedByPolicy
}

// Message types recorded in message extra data.
const (
	MessageTypeInitial = "initial"
	MessageTypeText    = "TextMessage"
	MessageTypeHandoff = "HandoffMessage"
)

// Turn is one produced message within a run. Index 0 is the initial message.
type Turn struct {
	Index       int       `json:"index"`
	AgentID     string    `json:"agent_id,omitempty"`
	Speaker     string    `json:"speaker"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunResult summarises a finished run.
type RunResult struct {
	GroupChatID    string   `json:"group_chat_id"`
	ConversationID string   `json:"conversation_id"`
	State          RunState `json:"state"`
	Reason         string   `json:"reason,omitempty"`
	Turns          []Turn   `json:"turns"`
	Error          string   `json:"error,omitempty"`
}

// GeneratedTurns returns the turns produced by agents, excluding the initial message.
func (r *RunResult) GeneratedTurns() []Turn {
	var out []Turn
	for i := range r.Turns {
		if r.Turns[i].MessageType != MessageTypeInitial {
			out = append(out, r.Turns[i])
		}
	}
	return out
}

// Termination is the parsed form of a group chat's termination config.
type Termination struct {
	Keywords       []string `json:"keywords,omitempty"`
	MaxMessages    int      `json:"max_messages,omitempty"`
	StopAfterAgent string   `json:"stop_after_agent,omitempty"`
}

// ParseTermination validates and decodes a termination config. A nil
// config yields an empty policy that never fires.
func ParseTermination(cfg map[string]any) (Termination, error) {
	var t Termination
	if cfg == nil {
		return t, nil
	}
	for key, raw := range cfg {
		switch key {
		case "keywords":
			list, ok := raw.([]any)
			if !ok {
				return t, errors.New("termination keywords must be a list of strings")
			}
			for _, item := range list {
				s, ok := item.(string)
				if !ok || s == "" {
					return t, errors.New("termination keywords must be non-empty strings")
				}
				t.Keywords = append(t.Keywords, s)
			}
		case "max_messages":
			n, ok := raw.(float64)
			if !ok || n < 1 || n != float64(int(n)) {
				return t, errors.New("termination max_messages must be a positive integer")
			}
			t.MaxMessages = int(n)
		case "stop_after_agent":
			s, ok := raw.(string)
			if !ok {
				return t, errors.New("termination stop_after_agent must be a string")
			}
			t.StopAfterAgent = s
		default:
			return t, fmt.Errorf("unknown termination key %q", key)
		}
	}
	return t, nil
}

// Evaluate reports whether the transcript satisfies the policy, with a reason.
func (t Termination) Evaluate(transcript []Turn) (bool, string) {
	if len(transcript) == 0 {
		return false, ""
	}
	last := transcript[len(transcript)-1]
	if last.MessageType == MessageTypeInitial {
		return false, ""
	}
	if t.MaxMessages > 0 && len(transcript) >= t.MaxMessages {
		return true, fmt.Sprintf("max_messages %d reached", t.MaxMessages)
	}
	lower := strings.ToLower(last.Content)
	for _, kw := range t.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true, fmt.Sprintf("keyword %q mentioned by %s", kw, last.Speaker)
		}
	}
	if t.StopAfterAgent != "" && last.Speaker == t.StopAfterAgent {
		return true, fmt.Sprintf("%s spoke", last.Speaker)
	}
	return false, ""
}
