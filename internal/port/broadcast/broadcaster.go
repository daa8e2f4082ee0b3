// Package broadcast defines the port for pushing real-time events to
// clients watching a conversation.
package broadcast

import "context"

// Event types pushed to conversation subscribers.
const (
	EventMessage   = "message"
	EventRunState  = "group_chat_state"
	EventLog       = "log"
	EventRunFailed = "error"
)

// Broadcaster sends events to the clients subscribed to one conversation.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all subscribers of conversationID.
	BroadcastEvent(ctx context.Context, conversationID, eventType string, payload any)
}
