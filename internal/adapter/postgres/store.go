package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Agents ---

const agentColumns = `id, name, description, agent_type, current_version_id, status, tags, created_at, updated_at`

func (s *Store) ListAgents(ctx context.Context, opts agent.ListOptions) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Skip)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return orEmpty(agents), rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	tags, err := marshalJSONObject(req.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	var created agent.Agent
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAgent(tx.QueryRow(ctx,
			`INSERT INTO agents (name, description, agent_type, status, tags)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+agentColumns,
			req.Name, req.Description, req.Type, req.Status, tags))
		if err != nil {
			return mapPgError(err, "insert agent")
		}

		if req.InitialConfig != nil {
			v, err := insertVersion(ctx, tx, a.ID, agent.CreateVersionRequest{
				Version:   agent.InitialVersion,
				Config:    req.InitialConfig,
				Changelog: "Initial version",
				CreatedBy: req.CreatedBy,
			}, true)
			if err != nil {
				return err
			}
			if err := tx.QueryRow(ctx,
				`UPDATE agents SET current_version_id = $2 WHERE id = $1 RETURNING updated_at`,
				a.ID, v.ID).Scan(&a.UpdatedAt); err != nil {
				return fmt.Errorf("set initial version: %w", err)
			}
			a.CurrentVersionID = v.ID
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &created, nil
}

func (s *Store) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	tags, err := marshalJSONObject(a.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`UPDATE agents SET name = $2, description = $3, agent_type = $4, status = $5, tags = $6, updated_at = NOW()
		 WHERE id = $1 RETURNING updated_at`,
		a.ID, a.Name, a.Description, a.Type, a.Status, tags).Scan(&a.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update agent %s", a.ID)
	}
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete agent %s", id)
}

// --- Agent versions ---

const versionColumns = `id, agent_id, version, configuration, changelog, created_by, is_current, created_at`

func (s *Store) ListVersions(ctx context.Context, agentID string) ([]agent.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM agent_versions WHERE agent_id = $1 ORDER BY created_at DESC, id`,
		agentID)
	if err != nil {
		return nil, mapPgError(err, "list versions")
	}
	defer rows.Close()

	var versions []agent.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return orEmpty(versions), rows.Err()
}

func (s *Store) GetVersion(ctx context.Context, agentID, versionID string) (*agent.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM agent_versions WHERE id = $1 AND agent_id = $2`,
		versionID, agentID))
	if err != nil {
		return nil, notFoundWrap(err, "get version %s", versionID)
	}
	return &v, nil
}

func (s *Store) GetCurrentVersion(ctx context.Context, agentID string) (*agent.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM agent_versions WHERE agent_id = $1 AND is_current`,
		agentID))
	if err != nil {
		return nil, notFoundWrap(err, "get current version of agent %s", agentID)
	}
	return &v, nil
}

func (s *Store) CreateVersion(ctx context.Context, agentID string, req agent.CreateVersionRequest) (*agent.Version, error) {
	var created *agent.Version
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		// Lock the agent row so concurrent version writes serialize.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM agents WHERE id = $1 FOR UPDATE`, agentID).Scan(&exists); err != nil {
			return notFoundWrap(err, "lock agent %s", agentID)
		}
		if req.MakeCurrent {
			if _, err := tx.Exec(ctx,
				`UPDATE agent_versions SET is_current = false WHERE agent_id = $1 AND is_current`, agentID); err != nil {
				return fmt.Errorf("clear current version: %w", err)
			}
		}
		v, err := insertVersion(ctx, tx, agentID, req, req.MakeCurrent)
		if err != nil {
			return err
		}
		if req.MakeCurrent {
			if _, err := tx.Exec(ctx,
				`UPDATE agents SET current_version_id = $2, updated_at = NOW() WHERE id = $1`, agentID, v.ID); err != nil {
				return fmt.Errorf("move current pointer: %w", err)
			}
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create version for agent %s: %w", agentID, err)
	}
	return created, nil
}

func (s *Store) SetCurrentVersion(ctx context.Context, agentID, versionID string) (*agent.Agent, error) {
	var updated agent.Agent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var found bool
		err := tx.QueryRow(ctx,
			`SELECT true FROM agent_versions WHERE id = $1 AND agent_id = $2`, versionID, agentID).Scan(&found)
		if err != nil {
			return notFoundWrap(err, "version %s of agent %s", versionID, agentID)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE agent_versions SET is_current = false WHERE agent_id = $1 AND is_current AND id <> $2`,
			agentID, versionID); err != nil {
			return fmt.Errorf("clear current version: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE agent_versions SET is_current = true WHERE id = $1`, versionID); err != nil {
			return fmt.Errorf("mark current version: %w", err)
		}
		a, err := scanAgent(tx.QueryRow(ctx,
			`UPDATE agents SET current_version_id = $2, updated_at = NOW() WHERE id = $1 RETURNING `+agentColumns,
			agentID, versionID))
		if err != nil {
			return notFoundWrap(err, "move current pointer of agent %s", agentID)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set current version: %w", err)
	}
	return &updated, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, agentID string, req agent.CreateVersionRequest, current bool) (*agent.Version, error) {
	cfg, err := marshalJSONObject(req.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}
	v, err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO agent_versions (agent_id, version, configuration, changelog, created_by, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+versionColumns,
		agentID, req.Version, cfg, req.Changelog, req.CreatedBy, current))
	if err != nil {
		err = mapPgError(err, "insert version "+req.Version)
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("version %s already exists: %w", req.Version, domain.ErrConflict)
		}
		return nil, err
	}
	return &v, nil
}

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	var currentVersion *string
	var tagsJSON []byte
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Type, &currentVersion, &a.Status, &tagsJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	a.CurrentVersionID = deref(currentVersion)
	if err := unmarshalJSON(tagsJSON, &a.Tags, "tags"); err != nil {
		return a, err
	}
	if a.Tags == nil {
		a.Tags = map[string]string{}
	}
	return a, nil
}

func scanVersion(row scannable) (agent.Version, error) {
	var v agent.Version
	var cfgJSON []byte
	err := row.Scan(&v.ID, &v.AgentID, &v.Version, &cfgJSON, &v.Changelog, &v.CreatedBy, &v.IsCurrent, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	return v, unmarshalJSON(cfgJSON, &v.Config, "configuration")
}
