// Package apikey implements gateway-level key auth: either a bearer
// token or an X-Api-Key header, compared in constant time.
package apikey

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/responders"
)

// FromRequest extracts the presented key: Authorization: Bearer takes
// precedence, then X-Api-Key.
func FromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.Header.Get("X-Api-Key")
}

// Match compares the presented key against the expected one in constant
// time. An empty expected key means auth is not configured and every
// request passes.
func Match(presented, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// Middleware guards a route group with the given key. Used for the
// admin surface; the pipeline runs its own check so it can emit a
// receipt on denial.
func Middleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Match(FromRequest(r), expected) {
				responders.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
