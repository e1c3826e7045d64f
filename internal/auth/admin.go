// Package auth guards the /system/* admin surface. This control plane has
// no end-user session model (§1 Non-goals) — the only credential is a
// single shared bearer token compared in constant time.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// RequireAdminToken returns middleware that rejects requests whose
// "Authorization: Bearer <token>" header does not match token. An empty
// token means admin auth is unconfigured and every request is rejected —
// there is no implicit "auth disabled" mode.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondError(w, http.StatusServiceUnavailable, "admin_auth_unconfigured", "admin token is not configured")
				return
			}

			presented, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// respondError writes the same JSON error envelope as
// httpserver.RespondError; httpserver imports this package, so it cannot be
// imported back here.
func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}
