package postgres

import (
	"context"
	"fmt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/template"
)

const templateColumns = `id, name, description, category, config, is_public, created_at, updated_at`

func (s *Store) ListTemplates(ctx context.Context, f template.Filter) ([]template.Template, error) {
	var q queryBuilder
	q.eq("category", f.Category)
	if f.PublicOnly {
		q.where("is_public")
	}
	sql := `SELECT ` + templateColumns + ` FROM agent_templates` + q.clause() + ` ORDER BY name` + q.page(f.Limit, f.Skip)

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*template.Template, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM agent_templates WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get template %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, req template.CreateRequest) (*template.Template, error) {
	cfg, err := marshalJSONObject(req.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	t, err := scanTemplate(s.pool.QueryRow(ctx,
		`INSERT INTO agent_templates (name, description, category, config, is_public)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+templateColumns,
		req.Name, req.Description, req.Category, cfg, req.IsPublic))
	if err != nil {
		return nil, mapPgError(err, "create template")
	}
	return &t, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t *template.Template) error {
	cfg, err := marshalJSONObject(t.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`UPDATE agent_templates SET name = $2, description = $3, category = $4, config = $5, is_public = $6, updated_at = NOW()
		 WHERE id = $1 RETURNING updated_at`,
		t.ID, t.Name, t.Description, t.Category, cfg, t.IsPublic).Scan(&t.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update template %s", t.ID)
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_templates WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete template %s", id)
}

func scanTemplate(row scannable) (template.Template, error) {
	var t template.Template
	var cfgJSON []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &cfgJSON, &t.IsPublic, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	return t, unmarshalJSON(cfgJSON, &t.Config, "config")
}
