package messagequeue

// RunStartedPayload is the schema for groupchat.run.started messages.
type RunStartedPayload struct {
	GroupChatID    string   `json:"group_chat_id"`
	ConversationID string   `json:"conversation_id"`
	Strategy       string   `json:"strategy"`
	MaxRounds      int      `json:"max_rounds"`
	Participants   []string `json:"participants"`
}

// RunTurnPayload is the schema for groupchat.run.turn messages.
type RunTurnPayload struct {
	GroupChatID    string `json:"group_chat_id"`
	ConversationID string `json:"conversation_id"`
	Index          int    `json:"index"`
	AgentID        string `json:"agent_id"`
	Speaker        string `json:"speaker"`
	MessageType    string `json:"message_type"`
}

// RunFinishedPayload is the schema for groupchat.run.completed and
// groupchat.run.failed messages.
type RunFinishedPayload struct {
	GroupChatID    string `json:"group_chat_id"`
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	Reason         string `json:"reason,omitempty"`
	Turns          int    `json:"turns"`
	Persisted      int    `json:"persisted"`
	Error          string `json:"error,omitempty"`
}

// MetricRecordedPayload is the schema for analytics.metric.recorded messages.
type MetricRecordedPayload struct {
	MetricID   string  `json:"metric_id"`
	UserID     string  `json:"user_id,omitempty"`
	MetricType string  `json:"metric_type"`
	MetricName string  `json:"metric_name"`
	Value      float64 `json:"value"`
}

// QuotaConsumePayload is the schema for analytics.quota.consume messages.
type QuotaConsumePayload struct {
	UserID    string  `json:"user_id"`
	QuotaType string  `json:"quota_type"`
	Amount    float64 `json:"amount"`
}
