// Package agent defines the Agent and AgentVersion domain entities.
package agent

import (
	"errors"
	"regexp"
	"time"
)

// Status represents the lifecycle state of an agent.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ValidStatus reports whether s is a known agent status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return true
	}
	return false
}

// InitialVersion is the semantic version assigned to the first configuration.
const InitialVersion = "1.0.0"

// Agent is a configured AI agent. Its behaviour lives in versioned configs.
type Agent struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Type             string            `json:"agent_type"`
	CurrentVersionID string            `json:"current_version_id,omitempty"`
	Status           Status            `json:"status"`
	Tags             map[string]string `json:"tags"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Version is one immutable configuration snapshot of an agent.
// At most one version per agent has IsCurrent set.
type Version struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Version   string         `json:"version"`
	Config    map[string]any `json:"configuration"`
	Changelog string         `json:"changelog,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	IsCurrent bool           `json:"is_current"`
	CreatedAt time.Time      `json:"created_at"`
}

// SystemMessage returns the configured system prompt, or "" when absent.
func (v *Version) SystemMessage() string {
	if v == nil || v.Config == nil {
		return ""
	}
	s, _ := v.Config["system_message"].(string)
	return s
}

// Model returns the configured model name, or "" when absent.
func (v *Version) Model() string {
	if v == nil || v.Config == nil {
		return ""
	}
	s, _ := v.Config["model"].(string)
	return s
}

// Temperature returns the configured sampling temperature and whether it was set.
func (v *Version) Temperature() (float64, bool) {
	if v == nil || v.Config == nil {
		return 0, false
	}
	f, ok := v.Config["temperature"].(float64)
	return f, ok
}

// CreateRequest holds the fields needed to create a new agent.
type CreateRequest struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Type          string            `json:"agent_type"`
	Status        Status            `json:"status"`
	Tags          map[string]string `json:"tags"`
	InitialConfig map[string]any    `json:"initial_config,omitempty"`
	CreatedBy     string            `json:"-"`
}

// Validate checks that a CreateRequest is well-formed and fills defaults.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > 255 {
		return errors.New("name must be at most 255 characters")
	}
	if r.Type == "" {
		return errors.New("agent_type is required")
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if !ValidStatus(r.Status) {
		return errors.New("invalid status: must be draft, active, or archived")
	}
	return nil
}

// UpdateRequest holds optional fields for a partial agent update.
type UpdateRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Type        *string           `json:"agent_type,omitempty"`
	Status      *Status           `json:"status,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Validate checks the supplied fields of an UpdateRequest.
func (r *UpdateRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return errors.New("name must not be empty")
	}
	if r.Type != nil && *r.Type == "" {
		return errors.New("agent_type must not be empty")
	}
	if r.Status != nil && !ValidStatus(*r.Status) {
		return errors.New("invalid status: must be draft, active, or archived")
	}
	return nil
}

// Apply copies the non-nil fields of r onto a.
func (r *UpdateRequest) Apply(a *Agent) {
	if r.Name != nil {
		a.Name = *r.Name
	}
	if r.Description != nil {
		a.Description = *r.Description
	}
	if r.Type != nil {
		a.Type = *r.Type
	}
	if r.Status != nil {
		a.Status = *r.Status
	}
	if r.Tags != nil {
		a.Tags = r.Tags
	}
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// CreateVersionRequest holds the fields for adding a configuration version.
type CreateVersionRequest struct {
	Version     string         `json:"version"`
	Config      map[string]any `json:"configuration"`
	Changelog   string         `json:"changelog"`
	MakeCurrent bool           `json:"make_current"`
	CreatedBy   string         `json:"-"`
}

// Validate checks that a CreateVersionRequest is well-formed.
func (r *CreateVersionRequest) Validate() error {
	if !semverPattern.MatchString(r.Version) {
		return errors.New("version must be MAJOR.MINOR.PATCH")
	}
	if r.Config == nil {
		return errors.New("configuration is required")
	}
	return nil
}

// ListOptions paginates agent listings.
type ListOptions struct {
	Skip  int
	Limit int
}
