// Package execlog defines structured execution logs tied to conversations.
package execlog

import (
	"errors"
	"fmt"
	"time"
)

// EventType classifies a log line.
type EventType string

const (
	EventMessage      EventType = "message"
	EventFunctionCall EventType = "function_call"
	EventLLMCall      EventType = "llm_call"
	EventError        EventType = "error"
	EventSystem       EventType = "system"
)

// ValidEventType reports whether e is a known event type.
func ValidEventType(e EventType) bool {
	switch e {
	case EventMessage, EventFunctionCall, EventLLMCall, EventError, EventSystem:
		return true
	}
	return false
}

// Level is the severity of a log line.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ValidLevel reports whether l is a known level.
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// Log is an immutable structured log line.
type Log struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	EventType      EventType      `json:"event_type"`
	Level          Level          `json:"level"`
	AgentName      string         `json:"agent_name,omitempty"`
	Content        string         `json:"content"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// CreateRequest is the input for writing a log line.
type CreateRequest struct {
	ConversationID string         `json:"conversation_id"`
	EventType      EventType      `json:"event_type"`
	Level          Level          `json:"level"`
	AgentName      string         `json:"agent_name,omitempty"`
	Content        string         `json:"content"`
	Data           map[string]any `json:"data,omitempty"`
}

// Validate checks required fields and defaults the level to info.
func (r *CreateRequest) Validate() error {
	if r.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if !ValidEventType(r.EventType) {
		return fmt.Errorf("invalid event_type %q", r.EventType)
	}
	if r.Level == "" {
		r.Level = LevelInfo
	}
	if !ValidLevel(r.Level) {
		return fmt.Errorf("invalid level %q", r.Level)
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// Filter narrows the logs of one conversation. Results are newest first.
type Filter struct {
	Level     Level
	EventType EventType
	AgentName string
	Start     *time.Time
	End       *time.Time
	Limit     int
	Offset    int
}

// Normalize clamps pagination to [1, 1000] with a default of 100.
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Stats summarises the logs of one conversation.
type Stats struct {
	ConversationID string           `json:"conversation_id"`
	TotalLogs      int64            `json:"total_logs"`
	ByLevel        map[string]int64 `json:"by_level"`
	ByEventType    map[string]int64 `json:"by_event_type"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
}
