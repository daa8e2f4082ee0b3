package http

import (
	"context"
	"net/http"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
)

// Register creates a user account.
// POST /api/v1/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), func(ctx context.Context, req user.CreateRequest) (*user.User, error) {
		return h.Auth.Register(ctx, &req)
	}, "user not found")(w, r)
}

// Login exchanges credentials for an access token.
// POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	resp, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMe handles GET /api/v1/auth/me
func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateMe handles PUT /api/v1/auth/me
func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[user.UpdateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	updated, err := h.Auth.UpdateSelf(r.Context(), u.ID, req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ListUsers handles GET /api/v1/auth/users (superuser)
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auth.ListUsers(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser handles GET /api/v1/auth/users/{id} (superuser)
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Auth.GetUser, "user not found")(w, r)
}

// UpdateUser handles PUT /api/v1/auth/users/{id} (superuser)
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.bodyLimit(), h.Auth.UpdateUser, "user not found")(w, r)
}

// DeleteUser handles DELETE /api/v1/auth/users/{id} (superuser)
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Auth.DeleteUser, "user not found")(w, r)
}
