// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/template"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
)

// AgentStore persists agents and their configuration versions.
type AgentStore interface {
	ListAgents(ctx context.Context, opts agent.ListOptions) ([]agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	// CreateAgent inserts the agent and, when InitialConfig is set, its
	// initial current version in the same transaction.
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error)
	UpdateAgent(ctx context.Context, a *agent.Agent) error
	DeleteAgent(ctx context.Context, id string) error

	ListVersions(ctx context.Context, agentID string) ([]agent.Version, error)
	GetVersion(ctx context.Context, agentID, versionID string) (*agent.Version, error)
	GetCurrentVersion(ctx context.Context, agentID string) (*agent.Version, error)
	CreateVersion(ctx context.Context, agentID string, req agent.CreateVersionRequest) (*agent.Version, error)
	// SetCurrentVersion atomically clears the old current flag, sets the new
	// one and moves the agent pointer.
	SetCurrentVersion(ctx context.Context, agentID, versionID string) (*agent.Agent, error)
}

// TemplateStore persists agent templates.
type TemplateStore interface {
	ListTemplates(ctx context.Context, f template.Filter) ([]template.Template, error)
	GetTemplate(ctx context.Context, id string) (*template.Template, error)
	CreateTemplate(ctx context.Context, req template.CreateRequest) (*template.Template, error)
	UpdateTemplate(ctx context.Context, t *template.Template) error
	DeleteTemplate(ctx context.Context, id string) error
}

// UserStore persists user accounts.
type UserStore interface {
	ListUsers(ctx context.Context) ([]user.User, error)
	GetUser(ctx context.Context, id string) (*user.User, error)
	// GetUserByLogin looks a user up by username or email.
	GetUserByLogin(ctx context.Context, login string) (*user.User, error)
	GetOldestUser(ctx context.Context) (*user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
	UpdateUser(ctx context.Context, u *user.User) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
}

// ConversationStore persists conversations and their ordered messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, req conversation.CreateRequest) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, agentID string, opts conversation.ListOptions) ([]conversation.Conversation, error)
	CompleteConversation(ctx context.Context, id string, endedAt time.Time) error
	DeleteConversation(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, conversationID string, req conversation.MessageCreateRequest) (*conversation.Message, error)
	// AppendMessages writes all messages in one transaction, preserving
	// slice order.
	AppendMessages(ctx context.Context, conversationID string, msgs []conversation.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
}

// GroupChatStore persists group chats, participants, and conversation links.
type GroupChatStore interface {
	ListGroupChats(ctx context.Context, skip, limit int) ([]groupchat.GroupChat, error)
	GetGroupChat(ctx context.Context, id string) (*groupchat.GroupChat, error)
	CreateGroupChat(ctx context.Context, req groupchat.CreateRequest) (*groupchat.GroupChat, error)
	UpdateGroupChat(ctx context.Context, g *groupchat.GroupChat) error
	DeleteGroupChat(ctx context.Context, id string) error

	ListParticipants(ctx context.Context, groupChatID string) ([]groupchat.Participant, error)
	AddParticipant(ctx context.Context, groupChatID string, req groupchat.AddParticipantRequest) (*groupchat.Participant, error)
	// RemoveParticipant fails with domain.ErrValidation when the removal
	// would leave fewer than groupchat.MinParticipants.
	RemoveParticipant(ctx context.Context, groupChatID, agentID string) error

	CreateConversationLink(ctx context.Context, groupChatID, conversationID string) (*groupchat.ConversationLink, error)
	UpdateConversationLink(ctx context.Context, groupChatID, conversationID string, round int, speakerID string) error
	ListConversationLinks(ctx context.Context, groupChatID string) ([]groupchat.ConversationLink, error)
	ListGroupChatMessages(ctx context.Context, groupChatID string) ([]conversation.Message, error)
}

// MetricStore persists metric events and their rollups.
type MetricStore interface {
	RecordMetric(ctx context.Context, ev *analytics.MetricEvent) error
	QueryMetrics(ctx context.Context, f analytics.Filter) ([]analytics.MetricEvent, error)
	// SummarizeMetrics returns Count 0 and a nil Unit when nothing matches.
	SummarizeMetrics(ctx context.Context, f analytics.Filter) (analytics.Summary, error)
	// MetricTotals sums cost and token_usage values and counts api_call
	// events matching the entity references and time range of f.
	MetricTotals(ctx context.Context, f analytics.Filter) (analytics.Totals, error)
	// RollupMetrics upserts one aggregate per group for the single bucket
	// [b.Start, b.End), honouring the user and agent filters of b, and
	// returns the number of groups written.
	RollupMetrics(ctx context.Context, b analytics.RollupRequest) (int64, error)
	ListAggregates(ctx context.Context, f analytics.AggregateFilter) ([]analytics.AggregatedMetric, error)
}

// PerformanceStore persists performance records.
type PerformanceStore interface {
	RecordPerformance(ctx context.Context, m *performance.Metric) error
	PerformanceStatistics(ctx context.Context, f performance.Filter) (performance.Statistics, error)
	PerformanceGlobalRates(ctx context.Context, start, end time.Time) (performance.GlobalRates, error)
}

// QuotaStore persists usage quotas.
type QuotaStore interface {
	GetQuota(ctx context.Context, userID, quotaType string) (*quota.UsageQuota, error)
	ListQuotas(ctx context.Context, userID string) ([]quota.UsageQuota, error)
	// ProvisionQuota creates the quota for (user, type) with its window
	// starting at now. An existing record yields domain.ErrConflict.
	ProvisionQuota(ctx context.Context, req quota.ProvisionRequest, now time.Time) (*quota.UsageQuota, error)
	// ReconfigureQuota applies quota.UsageQuota.Reconfigure atomically.
	// Usage is preserved. A missing record yields domain.ErrNotFound.
	ReconfigureQuota(ctx context.Context, req quota.ProvisionRequest, now time.Time) (*quota.UsageQuota, error)
	// IncrementQuota applies quota.UsageQuota.ApplyIncrement as one atomic
	// read-modify-write. A missing record yields domain.ErrNotFound.
	IncrementQuota(ctx context.Context, userID, quotaType string, amount float64, now time.Time) (*quota.UsageQuota, error)
}

// ExecutionLogStore persists execution logs.
type ExecutionLogStore interface {
	CreateLog(ctx context.Context, req execlog.CreateRequest) (*execlog.Log, error)
	GetLog(ctx context.Context, id string) (*execlog.Log, error)
	ListLogs(ctx context.Context, conversationID string, f execlog.Filter) ([]execlog.Log, error)
	LogStats(ctx context.Context, conversationID string) (*execlog.Stats, error)
	DeleteLogs(ctx context.Context, conversationID string) (int64, error)
}

// Store is the port interface for database operations.
type Store interface {
	AgentStore
	TemplateStore
	UserStore
	ConversationStore
	GroupChatStore
	MetricStore
	PerformanceStore
	QuotaStore
	ExecutionLogStore
}
