// Package template defines reusable agent configuration templates.
package template

import (
	"errors"
	"time"
)

// Template is a named, reusable agent configuration.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category"`
	Config      map[string]any `json:"config"`
	IsPublic    bool           `json:"is_public"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a template.
type CreateRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Config      map[string]any `json:"config"`
	IsPublic    bool           `json:"is_public"`
}

// Validate checks that a CreateRequest is well-formed.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.Category == "" {
		return errors.New("category is required")
	}
	if r.Config == nil {
		return errors.New("config is required")
	}
	return nil
}

// UpdateRequest holds optional fields for a partial template update.
type UpdateRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	IsPublic    *bool          `json:"is_public,omitempty"`
}

// Apply copies the non-nil fields of r onto t.
func (r *UpdateRequest) Apply(t *Template) error {
	if r.Name != nil {
		if *r.Name == "" {
			return errors.New("name must not be empty")
		}
		t.Name = *r.Name
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Category != nil {
		t.Category = *r.Category
	}
	if r.Config != nil {
		t.Config = r.Config
	}
	if r.IsPublic != nil {
		t.IsPublic = *r.IsPublic
	}
	return nil
}

// Filter narrows template listings.
type Filter struct {
	Category   string
	PublicOnly bool
	Skip       int
	Limit      int
}

// InstantiateRequest creates an agent from a template.
type InstantiateRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        map[string]string `json:"tags"`
}
