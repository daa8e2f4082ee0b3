package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/template"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// Ensure mockStore implements database.Store at compile time.
var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory implementation of database.Store for testing.
type mockStore struct {
	mu sync.Mutex

	base  time.Time
	ticks int

	agents        []agent.Agent
	versions      []agent.Version
	templates     []template.Template
	users         []user.User
	conversations []conversation.Conversation
	messages      []conversation.Message
	groupChats    []groupchat.GroupChat
	participants  []groupchat.Participant
	links         []groupchat.ConversationLink
	metrics       []analytics.MetricEvent
	aggregates    []analytics.AggregatedMetric
	perf          []performance.Metric
	quotas        []quota.UsageQuota
	logs          []execlog.Log

	// Error hooks inject failures.
	appendErr error
}

func newMockStore() *mockStore {
	return &mockStore{base: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

// tick returns a strictly increasing timestamp. Callers hold mu.
func (m *mockStore) tick() time.Time {
	m.ticks++
	return m.base.Add(time.Duration(m.ticks) * time.Millisecond)
}

func newID() string { return uuid.NewString() }

// --- Agents ---

func (m *mockStore) ListAgents(_ context.Context, opts agent.ListOptions) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.agents, opts.Skip, opts.Limit), nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == id {
			a := m.agents[i]
			return &a, nil
		}
	}
	return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) CreateAgent(_ context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	a := agent.Agent{
		ID:          newID(),
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Status:      req.Status,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.InitialConfig != nil {
		v := agent.Version{
			ID:        newID(),
			AgentID:   a.ID,
			Version:   agent.InitialVersion,
			Config:    req.InitialConfig,
			Changelog: "Initial version",
			CreatedBy: req.CreatedBy,
			IsCurrent: true,
			CreatedAt: now,
		}
		m.versions = append(m.versions, v)
		a.CurrentVersionID = v.ID
	}
	m.agents = append(m.agents, a)
	return &a, nil
}

func (m *mockStore) UpdateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == a.ID {
			a.UpdatedAt = m.tick()
			m.agents[i] = *a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.agents)
	m.agents = remove(m.agents, func(a agent.Agent) bool { return a.ID == id })
	if len(m.agents) == n {
		return domain.ErrNotFound
	}
	m.versions = remove(m.versions, func(v agent.Version) bool { return v.AgentID == id })
	var convIDs []string
	for _, c := range m.conversations {
		if c.AgentID == id {
			convIDs = append(convIDs, c.ID)
		}
	}
	for _, cid := range convIDs {
		m.deleteConversationLocked(cid)
	}
	m.participants = remove(m.participants, func(p groupchat.Participant) bool { return p.AgentID == id })
	m.metrics = remove(m.metrics, func(e analytics.MetricEvent) bool { return e.AgentID == id })
	return nil
}

func (m *mockStore) ListVersions(_ context.Context, agentID string) ([]agent.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Version
	for _, v := range m.versions {
		if v.AgentID == agentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockStore) GetVersion(_ context.Context, agentID, versionID string) (*agent.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ID == versionID && v.AgentID == agentID {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrNotFound)
}

func (m *mockStore) GetCurrentVersion(_ context.Context, agentID string) (*agent.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.AgentID == agentID && v.IsCurrent {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("current version of %s: %w", agentID, domain.ErrNotFound)
}

func (m *mockStore) CreateVersion(_ context.Context, agentID string, req agent.CreateVersionRequest) (*agent.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ai := -1
	for i := range m.agents {
		if m.agents[i].ID == agentID {
			ai = i
		}
	}
	if ai < 0 {
		return nil, domain.ErrNotFound
	}
	for _, v := range m.versions {
		if v.AgentID == agentID && v.Version == req.Version {
			return nil, fmt.Errorf("version %s already exists: %w", req.Version, domain.ErrConflict)
		}
	}
	v := agent.Version{
		ID:        newID(),
		AgentID:   agentID,
		Version:   req.Version,
		Config:    req.Config,
		Changelog: req.Changelog,
		CreatedBy: req.CreatedBy,
		IsCurrent: req.MakeCurrent,
		CreatedAt: m.tick(),
	}
	if req.MakeCurrent {
		for i := range m.versions {
			if m.versions[i].AgentID == agentID {
				m.versions[i].IsCurrent = false
			}
		}
		m.agents[ai].CurrentVersionID = v.ID
	}
	m.versions = append(m.versions, v)
	return &v, nil
}

func (m *mockStore) SetCurrentVersion(_ context.Context, agentID, versionID string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, v := range m.versions {
		if v.ID == versionID && v.AgentID == agentID {
			found = true
		}
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	for i := range m.versions {
		if m.versions[i].AgentID == agentID {
			m.versions[i].IsCurrent = m.versions[i].ID == versionID
		}
	}
	for i := range m.agents {
		if m.agents[i].ID == agentID {
			m.agents[i].CurrentVersionID = versionID
			a := m.agents[i]
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

// --- Templates ---

func (m *mockStore) ListTemplates(_ context.Context, f template.Filter) ([]template.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []template.Template
	for _, t := range m.templates {
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.PublicOnly && !t.IsPublic {
			continue
		}
		out = append(out, t)
	}
	return page(out, f.Skip, f.Limit), nil
}

func (m *mockStore) GetTemplate(_ context.Context, id string) (*template.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateTemplate(_ context.Context, req template.CreateRequest) (*template.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.Name == req.Name {
			return nil, domain.ErrConflict
		}
	}
	now := m.tick()
	t := template.Template{
		ID: newID(), Name: req.Name, Description: req.Description, Category: req.Category,
		Config: req.Config, IsPublic: req.IsPublic, CreatedAt: now, UpdatedAt: now,
	}
	m.templates = append(m.templates, t)
	return &t, nil
}

func (m *mockStore) UpdateTemplate(_ context.Context, t *template.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.templates {
		if m.templates[i].ID == t.ID {
			m.templates[i] = *t
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.templates)
	m.templates = remove(m.templates, func(t template.Template) bool { return t.ID == id })
	if len(m.templates) == n {
		return domain.ErrNotFound
	}
	return nil
}

// --- Users ---

func (m *mockStore) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]user.User(nil), m.users...), nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetUserByLogin(_ context.Context, login string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == login || u.Email == login {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetOldestUser(_ context.Context) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *user.User
	for i := range m.users {
		u := m.users[i]
		if u.IsActive && (oldest == nil || u.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = &u
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	return oldest, nil
}

func (m *mockStore) CreateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return fmt.Errorf("user exists: %w", domain.ErrConflict)
		}
	}
	u.ID = newID()
	u.CreatedAt = m.tick()
	u.UpdatedAt = u.CreatedAt
	m.users = append(m.users, *u)
	return nil
}

func (m *mockStore) UpdateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == u.ID {
			m.users[i] = *u
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].LastLogin = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.users)
	m.users = remove(m.users, func(u user.User) bool { return u.ID == id })
	if len(m.users) == n {
		return domain.ErrNotFound
	}
	m.quotas = remove(m.quotas, func(q quota.UsageQuota) bool { return q.UserID == id })
	return nil
}

// --- Conversations ---

func (m *mockStore) CreateConversation(_ context.Context, req conversation.CreateRequest) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := conversation.Conversation{
		ID:             newID(),
		AgentID:        req.AgentID,
		AgentVersionID: req.AgentVersionID,
		Title:          req.Title,
		Status:         conversation.StatusActive,
		StartedAt:      m.tick(),
		ExtraData:      req.ExtraData,
	}
	m.conversations = append(m.conversations, c)
	return &c, nil
}

func (m *mockStore) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListConversations(_ context.Context, agentID string, opts conversation.ListOptions) ([]conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range m.conversations {
		if agentID == "" || c.AgentID == agentID {
			out = append(out, c)
		}
	}
	return page(out, opts.Skip, opts.Limit), nil
}

func (m *mockStore) CompleteConversation(_ context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.conversations {
		if m.conversations[i].ID == id {
			m.conversations[i].Status = conversation.StatusCompleted
			m.conversations[i].EndedAt = &endedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.deleteConversationLocked(id) {
		return domain.ErrNotFound
	}
	return nil
}

func (m *mockStore) deleteConversationLocked(id string) bool {
	n := len(m.conversations)
	m.conversations = remove(m.conversations, func(c conversation.Conversation) bool { return c.ID == id })
	m.messages = remove(m.messages, func(msg conversation.Message) bool { return msg.ConversationID == id })
	m.logs = remove(m.logs, func(l execlog.Log) bool { return l.ConversationID == id })
	m.metrics = remove(m.metrics, func(e analytics.MetricEvent) bool { return e.ConversationID == id })
	return len(m.conversations) != n
}

func (m *mockStore) CreateMessage(_ context.Context, conversationID string, req conversation.MessageCreateRequest) (*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := conversation.Message{
		ID:              newID(),
		ConversationID:  conversationID,
		Role:            req.Role,
		Content:         req.Content,
		ParentMessageID: req.ParentMessageID,
		CreatedAt:       m.tick(),
		ExtraData:       req.ExtraData,
	}
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *mockStore) AppendMessages(_ context.Context, conversationID string, msgs []conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for i := range msgs {
		msgs[i].ID = newID()
		msgs[i].ConversationID = conversationID
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = m.tick()
		}
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockStore) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Group chats ---

func (m *mockStore) ListGroupChats(_ context.Context, skip, limit int) ([]groupchat.GroupChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.groupChats, skip, limit), nil
}

func (m *mockStore) GetGroupChat(_ context.Context, id string) (*groupchat.GroupChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groupChats {
		if g.ID == id {
			g.Participants = m.participantsLocked(id)
			return &g, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) participantsLocked(groupChatID string) []groupchat.Participant {
	var out []groupchat.Participant
	for _, p := range m.participants {
		if p.GroupChatID == groupChatID {
			out = append(out, p)
		}
	}
	return orderedParticipants(out)
}

func (m *mockStore) CreateGroupChat(_ context.Context, req groupchat.CreateRequest) (*groupchat.GroupChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	g := groupchat.GroupChat{
		ID:                   newID(),
		Title:                req.Title,
		Description:          req.Description,
		SelectionStrategy:    req.SelectionStrategy,
		MaxRounds:            req.MaxRounds,
		AllowRepeatedSpeaker: req.AllowRepeatedSpeaker,
		TerminationConfig:    req.TerminationConfig,
		Status:               groupchat.StatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	m.groupChats = append(m.groupChats, g)
	for i, agentID := range req.ParticipantAgentIDs {
		order := i
		m.participants = append(m.participants, groupchat.Participant{
			ID: newID(), GroupChatID: g.ID, AgentID: agentID, SpeakingOrder: &order, CreatedAt: now,
		})
	}
	g.Participants = m.participantsLocked(g.ID)
	return &g, nil
}

func (m *mockStore) UpdateGroupChat(_ context.Context, g *groupchat.GroupChat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.groupChats {
		if m.groupChats[i].ID == g.ID {
			cp := *g
			cp.Participants = nil
			m.groupChats[i] = cp
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteGroupChat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.groupChats)
	m.groupChats = remove(m.groupChats, func(g groupchat.GroupChat) bool { return g.ID == id })
	if len(m.groupChats) == n {
		return domain.ErrNotFound
	}
	m.participants = remove(m.participants, func(p groupchat.Participant) bool { return p.GroupChatID == id })
	m.links = remove(m.links, func(l groupchat.ConversationLink) bool { return l.GroupChatID == id })
	return nil
}

func (m *mockStore) ListParticipants(_ context.Context, groupChatID string) ([]groupchat.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participantsLocked(groupChatID), nil
}

func (m *mockStore) AddParticipant(_ context.Context, groupChatID string, req groupchat.AddParticipantRequest) (*groupchat.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.GroupChatID == groupChatID && p.AgentID == req.AgentID {
			return nil, fmt.Errorf("participant %s: %w", req.AgentID, domain.ErrConflict)
		}
	}
	p := groupchat.Participant{
		ID:             newID(),
		GroupChatID:    groupChatID,
		AgentID:        req.AgentID,
		AgentVersionID: req.AgentVersionID,
		SpeakingOrder:  req.SpeakingOrder,
		Constraints:    req.Constraints,
		CreatedAt:      m.tick(),
	}
	m.participants = append(m.participants, p)
	return &p, nil
}

func (m *mockStore) RemoveParticipant(_ context.Context, groupChatID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.participantsLocked(groupChatID)
	found := false
	for _, p := range current {
		if p.AgentID == agentID {
			found = true
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	if len(current)-1 < groupchat.MinParticipants {
		return fmt.Errorf("%w: a group chat keeps at least %d participants", domain.ErrValidation, groupchat.MinParticipants)
	}
	m.participants = remove(m.participants, func(p groupchat.Participant) bool {
		return p.GroupChatID == groupChatID && p.AgentID == agentID
	})
	return nil
}

func (m *mockStore) CreateConversationLink(_ context.Context, groupChatID, conversationID string) (*groupchat.ConversationLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := groupchat.ConversationLink{ID: newID(), GroupChatID: groupChatID, ConversationID: conversationID, CreatedAt: m.tick()}
	m.links = append(m.links, l)
	return &l, nil
}

func (m *mockStore) UpdateConversationLink(_ context.Context, groupChatID, conversationID string, round int, speakerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.links {
		if m.links[i].GroupChatID == groupChatID && m.links[i].ConversationID == conversationID {
			m.links[i].RoundNumber = round
			m.links[i].CurrentSpeakerID = speakerID
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) ListConversationLinks(_ context.Context, groupChatID string) ([]groupchat.ConversationLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []groupchat.ConversationLink
	for _, l := range m.links {
		if l.GroupChatID == groupChatID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListGroupChatMessages(ctx context.Context, groupChatID string) ([]conversation.Message, error) {
	links, _ := m.ListConversationLinks(ctx, groupChatID)
	var out []conversation.Message
	for _, l := range links {
		msgs, _ := m.ListMessages(ctx, l.ConversationID)
		out = append(out, msgs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Metrics ---

func (m *mockStore) RecordMetric(_ context.Context, ev *analytics.MetricEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = newID()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.tick()
	}
	m.metrics = append(m.metrics, *ev)
	return nil
}

func metricMatches(e *analytics.MetricEvent, f *analytics.Filter) bool {
	switch {
	case f.UserID != "" && e.UserID != f.UserID,
		f.AgentID != "" && e.AgentID != f.AgentID,
		f.ConversationID != "" && e.ConversationID != f.ConversationID,
		f.MetricType != "" && e.MetricType != f.MetricType,
		f.MetricName != "" && e.MetricName != f.MetricName,
		f.Start != nil && e.Timestamp.Before(*f.Start),
		f.End != nil && !e.Timestamp.Before(*f.End):
		return false
	}
	return true
}

func (m *mockStore) matchMetrics(f analytics.Filter) []analytics.MetricEvent {
	var out []analytics.MetricEvent
	for i := range m.metrics {
		if metricMatches(&m.metrics[i], &f) {
			out = append(out, m.metrics[i])
		}
	}
	return out
}

func (m *mockStore) QueryMetrics(_ context.Context, f analytics.Filter) ([]analytics.MetricEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.matchMetrics(f)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, f.Offset, f.Limit), nil
}

func (m *mockStore) SummarizeMetrics(_ context.Context, f analytics.Filter) (analytics.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.matchMetrics(f)
	s := analytics.Summary{MetricType: f.MetricType, MetricName: f.MetricName}
	if len(matched) == 0 {
		return s, nil
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })
	s.Count = int64(len(matched))
	s.Min, s.Max = matched[0].Value, matched[0].Value
	for _, e := range matched {
		s.Sum += e.Value
		s.Min = min(s.Min, e.Value)
		s.Max = max(s.Max, e.Value)
		if s.Unit == nil && e.Unit != "" {
			u := e.Unit
			s.Unit = &u
		}
	}
	s.Avg = s.Sum / float64(s.Count)
	s.StartDate, s.EndDate = matched[0].Timestamp, matched[len(matched)-1].Timestamp
	if f.Start != nil {
		s.StartDate = *f.Start
	}
	if f.End != nil {
		s.EndDate = *f.End
	}
	return s, nil
}

func (m *mockStore) MetricTotals(_ context.Context, f analytics.Filter) (analytics.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.MetricType, f.MetricName = "", ""
	var t analytics.Totals
	for _, e := range m.matchMetrics(f) {
		switch e.MetricType {
		case analytics.MetricCost:
			t.TotalCost += e.Value
		case analytics.MetricTokenUsage:
			t.TotalTokens += e.Value
		case analytics.MetricAPICall:
			t.APICalls++
		}
	}
	return t, nil
}

func (m *mockStore) RollupMetrics(_ context.Context, b analytics.RollupRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, start, end := b.Period, b.Start, b.End
	groups := map[string]*analytics.AggregatedMetric{}
	var keys []string
	for _, e := range m.metrics {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		if (b.UserID != "" && e.UserID != b.UserID) || (b.AgentID != "" && e.AgentID != b.AgentID) {
			continue
		}
		key := strings.Join([]string{e.UserID, e.AgentID, e.MetricType, e.MetricName, e.Unit}, "|")
		a, ok := groups[key]
		if !ok {
			a = &analytics.AggregatedMetric{
				UserID: e.UserID, AgentID: e.AgentID, MetricType: e.MetricType, MetricName: e.MetricName,
				Period: p, PeriodStart: start, PeriodEnd: end, Min: e.Value, Max: e.Value, Unit: e.Unit,
			}
			groups[key] = a
			keys = append(keys, key)
		}
		a.Count++
		a.Sum += e.Value
		a.Min = min(a.Min, e.Value)
		a.Max = max(a.Max, e.Value)
		a.Avg = a.Sum / float64(a.Count)
	}
	for _, key := range keys {
		a := groups[key]
		m.aggregates = remove(m.aggregates, func(x analytics.AggregatedMetric) bool {
			return x.Period == p && x.PeriodStart.Equal(start) &&
				strings.Join([]string{x.UserID, x.AgentID, x.MetricType, x.MetricName, x.Unit}, "|") == key
		})
		a.ID = newID()
		a.CreatedAt = m.tick()
		m.aggregates = append(m.aggregates, *a)
	}
	return int64(len(keys)), nil
}

func (m *mockStore) ListAggregates(_ context.Context, f analytics.AggregateFilter) ([]analytics.AggregatedMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []analytics.AggregatedMetric
	for _, a := range m.aggregates {
		if (f.UserID == "" || a.UserID == f.UserID) &&
			(f.AgentID == "" || a.AgentID == f.AgentID) &&
			(f.MetricType == "" || a.MetricType == f.MetricType) &&
			(f.Period == "" || a.Period == f.Period) {
			out = append(out, a)
		}
	}
	return page(out, 0, f.Limit), nil
}

// --- Performance ---

func (m *mockStore) RecordPerformance(_ context.Context, pm *performance.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm.ID = newID()
	if pm.Timestamp.IsZero() {
		pm.Timestamp = m.tick()
	}
	m.perf = append(m.perf, *pm)
	return nil
}

func (m *mockStore) PerformanceStatistics(_ context.Context, f performance.Filter) (performance.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []performance.Metric
	for _, pm := range m.perf {
		if (f.Operation == "" || pm.Operation == f.Operation) &&
			(f.AgentID == "" || pm.AgentID == f.AgentID) &&
			(f.ConversationID == "" || pm.ConversationID == f.ConversationID) &&
			(f.Start.IsZero() || !pm.Timestamp.Before(f.Start)) &&
			(f.End.IsZero() || pm.Timestamp.Before(f.End)) {
			matched = append(matched, pm)
		}
	}
	st := performance.Compute(matched)
	st.Operation, st.StartDate, st.EndDate = f.Operation, f.Start, f.End
	return st, nil
}

func (m *mockStore) PerformanceGlobalRates(_ context.Context, start, end time.Time) (performance.GlobalRates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var g performance.GlobalRates
	var sum float64
	for _, pm := range m.perf {
		if pm.Timestamp.Before(start) || !pm.Timestamp.Before(end) {
			continue
		}
		g.Count++
		sum += pm.DurationMS
		if pm.Status == performance.StatusError {
			g.ErrorCount++
		}
	}
	if g.Count > 0 {
		g.AvgDurationMS = sum / float64(g.Count)
	}
	return g, nil
}

// --- Quotas ---

func (m *mockStore) GetQuota(_ context.Context, userID, quotaType string) (*quota.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.quotas {
		if q.UserID == userID && q.QuotaType == quotaType {
			return &q, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListQuotas(_ context.Context, userID string) ([]quota.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quota.UsageQuota
	for _, q := range m.quotas {
		if q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *mockStore) ProvisionQuota(_ context.Context, req quota.ProvisionRequest, now time.Time) (*quota.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.quotas {
		if m.quotas[i].UserID == req.UserID && m.quotas[i].QuotaType == req.QuotaType {
			return nil, fmt.Errorf("provision quota: %w: usage_quotas_user_id_quota_type_key", domain.ErrConflict)
		}
	}
	q := quota.UsageQuota{
		ID: newID(), UserID: req.UserID, QuotaType: req.QuotaType, Limit: req.Limit,
		ResetPeriod: req.ResetPeriod, LastReset: now, NextReset: req.ResetPeriod.Advance(now),
		CreatedAt: now, UpdatedAt: now,
	}
	m.quotas = append(m.quotas, q)
	return &q, nil
}

func (m *mockStore) ReconfigureQuota(_ context.Context, req quota.ProvisionRequest, now time.Time) (*quota.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.quotas {
		q := &m.quotas[i]
		if q.UserID == req.UserID && q.QuotaType == req.QuotaType {
			q.Reconfigure(req.Limit, req.ResetPeriod, now)
			out := *q
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) IncrementQuota(_ context.Context, userID, quotaType string, amount float64, now time.Time) (*quota.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.quotas {
		q := &m.quotas[i]
		if q.UserID == userID && q.QuotaType == quotaType {
			q.ApplyIncrement(now, amount)
			out := *q
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

// --- Execution logs ---

func (m *mockStore) CreateLog(_ context.Context, req execlog.CreateRequest) (*execlog.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := execlog.Log{
		ID: newID(), ConversationID: req.ConversationID, EventType: req.EventType, Level: req.Level,
		AgentName: req.AgentName, Content: req.Content, Data: req.Data, Timestamp: m.tick(),
	}
	m.logs = append(m.logs, l)
	return &l, nil
}

func (m *mockStore) GetLog(_ context.Context, id string) (*execlog.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListLogs(_ context.Context, conversationID string, f execlog.Filter) ([]execlog.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []execlog.Log
	for i := len(m.logs) - 1; i >= 0; i-- {
		l := m.logs[i]
		if l.ConversationID != conversationID ||
			(f.Level != "" && l.Level != f.Level) ||
			(f.EventType != "" && l.EventType != f.EventType) ||
			(f.AgentName != "" && l.AgentName != f.AgentName) {
			continue
		}
		out = append(out, l)
	}
	return page(out, f.Offset, f.Limit), nil
}

func (m *mockStore) LogStats(_ context.Context, conversationID string) (*execlog.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &execlog.Stats{ConversationID: conversationID, ByLevel: map[string]int64{}, ByEventType: map[string]int64{}}
	for _, l := range m.logs {
		if l.ConversationID != conversationID {
			continue
		}
		st.TotalLogs++
		st.ByLevel[string(l.Level)]++
		st.ByEventType[string(l.EventType)]++
		ts := l.Timestamp
		if st.StartTime == nil || ts.Before(*st.StartTime) {
			st.StartTime = &ts
		}
		if st.EndTime == nil || ts.After(*st.EndTime) {
			st.EndTime = &ts
		}
	}
	return st, nil
}

func (m *mockStore) DeleteLogs(_ context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.logs)
	m.logs = remove(m.logs, func(l execlog.Log) bool { return l.ConversationID == conversationID })
	return int64(n - len(m.logs)), nil
}

// --- helpers ---

func page[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}

func remove[T any](items []T, drop func(T) bool) []T {
	out := items[:0]
	for _, it := range items {
		if !drop(it) {
			out = append(out, it)
		}
	}
	return out
}
