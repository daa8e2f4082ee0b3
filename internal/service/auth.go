package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/database"
)

// Guest policies applied when a request carries no credentials.
const (
	GuestPolicyDeny      = "deny"
	GuestPolicyFirstUser = "first_user"
	GuestPolicyGuestUser = "guest_user"
)

const tokenIssuer = "agent-builder"

var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned when no identity can be resolved.
	ErrUnauthenticated = errors.New("authentication required")
)

// AuthService handles registration, login, JWT tokens, guest identity,
// and user administration.
type AuthService struct {
	store  database.Store
	cfg    *config.Auth
	tokens tokenSigner
	now    func() time.Time

	guestMu sync.Mutex
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, cfg *config.Auth) *AuthService {
	return &AuthService{
		store:  store,
		cfg:    cfg,
		tokens: tokenSigner{key: []byte(cfg.JWTSecret)},
		now:    clock,
	}
}

// Register creates a new user with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &user.User{
		Email:          req.Email,
		Username:       req.Username,
		HashedPassword: hash,
		FullName:       req.FullName,
		IsActive:       true,
		IsSuperuser:    req.IsSuperuser,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login authenticates by username or email and returns an access token.
func (s *AuthService) Login(ctx context.Context, req user.LoginRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	u, err := s.store.GetUserByLogin(ctx, req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", domain.ErrForbidden)
	}

	token, err := s.tokens.sign(u, s.now(), s.cfg.TokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	now := s.now()
	if err := s.store.UpdateLastLogin(ctx, u.ID, now); err != nil {
		slog.Warn("failed to record last login", "user_id", u.ID, "error", err)
	} else {
		u.LastLogin = &now
	}

	return &user.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.cfg.TokenExpiry.Seconds()),
		User:        *u,
	}, nil
}

// ValidateAccessToken verifies a JWT and returns its claims.
func (s *AuthService) ValidateAccessToken(tokenStr string) (*user.TokenClaims, error) {
	return s.tokens.verify(tokenStr, s.now())
}

// Authenticate resolves the user behind a bearer token.
func (s *AuthService) Authenticate(ctx context.Context, tokenStr string) (*user.User, error) {
	claims, err := s.tokens.verify(tokenStr, s.now())
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.New("token subject no longer exists")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GuestPolicy returns the configured policy, defaulting to guest_user.
func (s *AuthService) GuestPolicy() string {
	if s.cfg.GuestPolicy == "" {
		return GuestPolicyGuestUser
	}
	return s.cfg.GuestPolicy
}

// ResolveGuest returns the identity used for requests without credentials.
func (s *AuthService) ResolveGuest(ctx context.Context) (*user.User, error) {
	switch s.GuestPolicy() {
	case GuestPolicyDeny:
		return nil, ErrUnauthenticated
	case GuestPolicyFirstUser:
		u, err := s.store.GetOldestUser(ctx)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("get oldest user: %w", err)
		}
		return s.ensureGuestUser(ctx)
	default:
		return s.ensureGuestUser(ctx)
	}
}

// ensureGuestUser returns the guest superuser, creating it on first use.
func (s *AuthService) ensureGuestUser(ctx context.Context) (*user.User, error) {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	u, err := s.store.GetUserByLogin(ctx, s.cfg.GuestUsername)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get guest user: %w", err)
	}

	password, err := generateRandomToken(24)
	if err != nil {
		return nil, fmt.Errorf("generate guest password: %w", err)
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	u = &user.User{
		Email:          s.cfg.GuestEmail,
		Username:       s.cfg.GuestUsername,
		HashedPassword: hash,
		FullName:       "Guest User",
		IsActive:       true,
		IsSuperuser:    true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		// Another replica may have created it between the lookup and insert.
		if errors.Is(err, domain.ErrConflict) {
			return s.store.GetUserByLogin(ctx, s.cfg.GuestUsername)
		}
		return nil, fmt.Errorf("create guest user: %w", err)
	}
	slog.Info("created guest user", "username", u.Username)
	return u, nil
}

// ListUsers returns all users.
func (s *AuthService) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// GetUser returns a user by ID.
func (s *AuthService) GetUser(ctx context.Context, id string) (*user.User, error) {
	return s.store.GetUser(ctx, id)
}

// UpdateUser applies an administrative update.
func (s *AuthService) UpdateUser(ctx context.Context, id string, req user.UpdateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	if req.Password != nil {
		hash, err := s.hashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		u.HashedPassword = hash
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.IsSuperuser != nil {
		u.IsSuperuser = *req.IsSuperuser
	}

	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// UpdateSelf lets a user change their own profile. Privilege fields are ignored.
func (s *AuthService) UpdateSelf(ctx context.Context, id string, req user.UpdateRequest) (*user.User, error) {
	return s.UpdateUser(ctx, id, req.SelfUpdate())
}

// DeleteUser removes a user together with their quotas and metric events.
func (s *AuthService) DeleteUser(ctx context.Context, id string) error {
	return s.store.DeleteUser(ctx, id)
}

// ResetPassword sets a new password for the user identified by login.
func (s *AuthService) ResetPassword(ctx context.Context, login, password string) error {
	if len(password) < 8 {
		return invalid(errors.New("password must be at least 8 characters"))
	}
	u, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		return fmt.Errorf("get user %s: %w", login, err)
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}
	u.HashedPassword = hash
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	cost := s.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
