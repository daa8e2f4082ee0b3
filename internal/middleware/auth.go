package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

type (
	authUserCtxKey  struct{}
	authTokenCtxKey struct{}
)

// Authenticator resolves the identity behind a request.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*user.User, error)
	ResolveGuest(ctx context.Context) (*user.User, error)
}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/":                     true,
	"/health":               true,
	"/metrics":              true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/register": true,
}

// Auth returns middleware that resolves the caller. A bearer token (or a
// ?token= query parameter on WebSocket paths) must be valid; without
// credentials the guest policy decides. When tokensEnabled is false every
// request runs as the guest identity.
func Auth(authn Authenticator, tokensEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := ""
			if tokensEnabled {
				var ok bool
				token, ok = bearerToken(r)
				if !ok {
					writeError(w, http.StatusUnauthorized, "invalid authorization header")
					return
				}
			}

			var (
				u   *user.User
				err error
			)
			if token != "" {
				u, err = authn.Authenticate(r.Context(), token)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "could not validate credentials")
					return
				}
			} else {
				u, err = authn.ResolveGuest(r.Context())
				switch {
				case errors.Is(err, service.ErrUnauthenticated):
					w.Header().Set("WWW-Authenticate", "Bearer")
					writeError(w, http.StatusUnauthorized, "authorization required")
					return
				case err != nil:
					slog.Error("resolve guest identity", "error", err)
					writeError(w, http.StatusInternalServerError, "internal server error")
					return
				}
			}

			if !u.IsActive {
				writeError(w, http.StatusForbidden, "inactive user")
				return
			}

			ctx := context.WithValue(r.Context(), authUserCtxKey{}, u)
			if token != "" {
				ctx = context.WithValue(ctx, authTokenCtxKey{}, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the request's token. ok is false for a malformed
// Authorization header; an absent one yields "", true.
func bearerToken(r *http.Request) (string, bool) {
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", true
	}
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// UserFromContext returns the authenticated user from the request context.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(authUserCtxKey{}).(*user.User)
	return u
}

// TokenAuthenticated reports whether the caller presented a valid token, as
// opposed to running under the guest identity.
func TokenAuthenticated(ctx context.Context) bool {
	ok, _ := ctx.Value(authTokenCtxKey{}).(bool)
	return ok
}

// WithUser returns a context carrying u, as Auth would set it.
func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, authUserCtxKey{}, u)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
