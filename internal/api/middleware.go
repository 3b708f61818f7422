// Package api implements the Tiwaz REST API using chi.
package api

import (
	"net/http"
	"strings"

	"github.com/starford/tiwaz/internal/identity"
)

// AuthMiddleware returns middleware that resolves the calling user.
// If enabled is false, every request acts as defaultUser (disabled mode).
// If enabled is true, requests must carry "Authorization: Bearer <token>"
// with a token present in users, which maps tokens to user ids.
func AuthMiddleware(enabled bool, users map[string]string, defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), defaultUser)))
				return
			}
			auth := r.Header.Get("Authorization")
			user, ok := "", false
			if strings.HasPrefix(auth, "Bearer ") {
				user, ok = users[strings.TrimPrefix(auth, "Bearer ")]
			}
			if !ok || user == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
		})
	}
}
