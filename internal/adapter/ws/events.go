package ws

import "github.com/andrei-shtanakov/agent-builder-tester/internal/port/broadcast"

// Event types forwarded to subscribers, re-exported for clients of this package.
const (
	EventMessage   = broadcast.EventMessage
	EventRunState  = broadcast.EventRunState
	EventLog       = broadcast.EventLog
	EventRunFailed = broadcast.EventRunFailed
)

var _ broadcast.Broadcaster = (*Hub)(nil)
