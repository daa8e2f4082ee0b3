package service

import (
	"context"
	"fmt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/template"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// TemplateService manages reusable agent templates.
type TemplateService struct {
	store  database.Store
	agents *AgentService
}

// NewTemplateService creates a new TemplateService. Instantiated agents are
// created through agents.
func NewTemplateService(store database.Store, agents *AgentService) *TemplateService {
	return &TemplateService{store: store, agents: agents}
}

func (s *TemplateService) List(ctx context.Context, f template.Filter) ([]template.Template, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return s.store.ListTemplates(ctx, f)
}

func (s *TemplateService) Get(ctx context.Context, id string) (*template.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// Create stores a new template. Template names are unique.
func (s *TemplateService) Create(ctx context.Context, req template.CreateRequest) (*template.Template, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	t, err := s.store.CreateTemplate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

func (s *TemplateService) Update(ctx context.Context, id string, req template.UpdateRequest) (*template.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.Apply(t); err != nil {
		return nil, invalid(err)
	}
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return s.store.GetTemplate(ctx, id)
}

func (s *TemplateService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, id)
}

// Instantiate creates an agent whose initial version carries the template
// configuration. The agent type comes from the config's agent_type key,
// falling back to the template category.
func (s *TemplateService) Instantiate(ctx context.Context, id string, req template.InstantiateRequest, createdBy string) (*agent.Agent, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = t.Name
	}
	description := req.Description
	if description == "" {
		description = t.Description
	}
	agentType, _ := t.Config["agent_type"].(string)
	if agentType == "" {
		agentType = t.Category
	}
	tags := req.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	tags["template"] = t.Name

	return s.agents.Create(ctx, agent.CreateRequest{
		Name:          name,
		Description:   description,
		Type:          agentType,
		Tags:          tags,
		InitialConfig: t.Config,
		CreatedBy:     createdBy,
	})
}
