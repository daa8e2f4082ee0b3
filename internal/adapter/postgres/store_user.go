package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
)

const userColumns = `id, email, username, hashed_password, full_name, is_active, is_superuser, last_login, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, username, hashed_password, full_name, is_active, is_superuser)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		u.Email, u.Username, u.HashedPassword, u.FullName, u.IsActive, u.IsSuperuser,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapPgError(err, "create user")
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return &u, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1 ORDER BY username = $1 DESC LIMIT 1`, login))
	if err != nil {
		return nil, notFoundWrap(err, "get user by login %s", login)
	}
	return &u, nil
}

func (s *Store) GetOldestUser(ctx context.Context) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_active ORDER BY created_at, id LIMIT 1`))
	if err != nil {
		return nil, notFoundWrap(err, "get oldest user")
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return orEmpty(users), rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, u *user.User) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET email = $2, full_name = $3, hashed_password = $4, is_active = $5, is_superuser = $6, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		u.ID, u.Email, u.FullName, u.HashedPassword, u.IsActive, u.IsSuperuser,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update user %s", u.ID)
	}
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "update last login %s", id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete user %s", id)
}

func scanUser(row scannable) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.HashedPassword, &u.FullName,
		&u.IsActive, &u.IsSuperuser, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
