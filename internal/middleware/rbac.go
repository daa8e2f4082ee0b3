package middleware

import "net/http"

// RequireSuperuser restricts a route to superusers.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFromContext(r.Context())
		if u == nil {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		if !u.IsSuperuser {
			writeError(w, http.StatusForbidden, "superuser privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
