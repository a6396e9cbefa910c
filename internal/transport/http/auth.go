package http

import (
	"net/http"

	"github.com/go-chi/jwtauth"
)

// identityFrom extracts the stable opaque user identifier. The identity
// provider is external: when a verified JWT is present its subject claim
// wins; otherwise the userId query parameter serves unauthenticated
// deployments and tests.
func identityFrom(r *http.Request) string {
	if _, claims, err := jwtauth.FromContext(r.Context()); err == nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub
		}
	}
	return r.URL.Query().Get("userId")
}

// isAdmin reports whether the verified token carries the admin role.
func isAdmin(r *http.Request) bool {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return false
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}

// requireAdmin redirects non-admin callers away instead of surfacing an
// error, mirroring how the dashboard treats unauthorized visitors.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
