// Package user defines the user domain model for authentication and authorization.
package user

import (
	"errors"
	"net/mail"
	"time"
)

// User is an account that owns analytics, quotas, and sessions.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Username       string     `json:"username"`
	HashedPassword string     `json:"-"` // never serialized
	FullName       string     `json:"full_name,omitempty"`
	IsActive       bool       `json:"is_active"`
	IsSuperuser    bool       `json:"is_superuser"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CanAccessUser reports whether u may read data owned by userID.
func (u *User) CanAccessUser(userID string) bool {
	return u != nil && (u.IsSuperuser || u.ID == userID)
}

// CreateRequest is the input for registering a new user.
type CreateRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
	FullName    string `json:"full_name"`
	IsSuperuser bool   `json:"-"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("invalid email format")
	}
	if len(r.Username) < 3 || len(r.Username) > 50 {
		return errors.New("username must be 3-50 characters")
	}
	if len(r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

// UpdateRequest is the input for updating an existing user.
type UpdateRequest struct {
	Email       *string `json:"email,omitempty"`
	FullName    *string `json:"full_name,omitempty"`
	Password    *string `json:"password,omitempty"` //nolint:gosec // request field
	IsActive    *bool   `json:"is_active,omitempty"`
	IsSuperuser *bool   `json:"is_superuser,omitempty"`
}

// Validate checks the supplied fields of an UpdateRequest.
func (r *UpdateRequest) Validate() error {
	if r.Email != nil {
		if _, err := mail.ParseAddress(*r.Email); err != nil {
			return errors.New("invalid email format")
		}
	}
	if r.Password != nil && len(*r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

// SelfUpdate strips privileged fields so users cannot promote themselves.
func (r UpdateRequest) SelfUpdate() UpdateRequest {
	r.IsActive = nil
	r.IsSuperuser = nil
	return r
}

// LoginRequest is the input for user authentication. Username may also be an email.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"` //nolint:gosec // request field
}

// Validate checks that the LoginRequest has all required fields.
func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return errors.New("username is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// LoginResponse is returned after successful authentication.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        User   `json:"user"`
}

// TokenClaims is the JWT payload.
type TokenClaims struct {
	Subject     string `json:"sub"`
	Username    string `json:"username"`
	IsSuperuser bool   `json:"su,omitempty"`
	IssuedAt    int64  `json:"iat"`
	Expiry      int64  `json:"exp"`
	Issuer      string `json:"iss"`
}
