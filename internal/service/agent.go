package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// AgentService manages agents and their configuration versions.
type AgentService struct {
	store database.Store
}

// NewAgentService creates a new AgentService.
func NewAgentService(store database.Store) *AgentService {
	return &AgentService{store: store}
}

// List returns agents ordered by creation time.
func (s *AgentService) List(ctx context.Context, opts agent.ListOptions) ([]agent.Agent, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 100
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}
	return s.store.ListAgents(ctx, opts)
}

// Get returns an agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// Create validates the request and creates the agent. When an initial
// configuration is given it becomes version 1.0.0 and the current version.
func (s *AgentService) Create(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if req.Tags == nil {
		req.Tags = map[string]string{}
	}
	a, err := s.store.CreateAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// Update applies a partial update to an agent.
func (s *AgentService) Update(ctx context.Context, id string, req agent.UpdateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(a)
	if err := s.store.UpdateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return s.store.GetAgent(ctx, id)
}

// Delete removes an agent together with its versions and conversations.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteAgent(ctx, id)
}

// ListVersions returns every version of an agent, oldest first.
func (s *AgentService) ListVersions(ctx context.Context, agentID string) ([]agent.Version, error) {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, agentID)
}

// GetVersion returns one version of an agent.
func (s *AgentService) GetVersion(ctx context.Context, agentID, versionID string) (*agent.Version, error) {
	return s.store.GetVersion(ctx, agentID, versionID)
}

// CurrentVersion returns the version an agent currently runs with.
func (s *AgentService) CurrentVersion(ctx context.Context, agentID string) (*agent.Version, error) {
	return s.store.GetCurrentVersion(ctx, agentID)
}

// CreateVersion adds a configuration version. A duplicate version string
// for the same agent is a conflict.
func (s *AgentService) CreateVersion(ctx context.Context, agentID string, req agent.CreateVersionRequest) (*agent.Version, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	v, err := s.store.CreateVersion(ctx, agentID, req)
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return v, nil
}

// ActivateVersion makes versionID the agent's current version.
func (s *AgentService) ActivateVersion(ctx context.Context, agentID, versionID string) (*agent.Agent, error) {
	a, err := s.store.SetCurrentVersion(ctx, agentID, versionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("version %s of agent %s: %w", versionID, agentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("activate version: %w", err)
	}
	return a, nil
}
