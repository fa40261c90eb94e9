package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edgepub/edgepub/cfg"
)

// TokenHeader carries the shared API token
const TokenHeader = "X-Edgepub-Token"

// TokenAuth rejects requests that do not present token. An empty token
// disables authentication.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(TokenHeader)
			if provided == "" {
				// Check Authorization: Bearer header
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					writeDetail(w, http.StatusUnauthorized, "missing authentication header")
					return
				}
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || parts[0] != "Bearer" {
					writeDetail(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}
				provided = parts[1]
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeDetail(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requireEnvironment rejects requests naming an unconfigured environment
func requireEnvironment(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := chi.URLParam(r, "env")
		if _, err := cfg.GetEnvironment(env); err != nil {
			writeDetail(w, http.StatusNotFound, "Invalid environment='"+env+"'")
			return
		}
		next.ServeHTTP(w, r)
	})
}
