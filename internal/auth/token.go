// Package auth implements admin token authentication for depot's
// mutating endpoints.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	depot "github.com/eugener/depot/internal"
)

// TokenAuth checks requests for a static bearer token. Only the SHA-256 of
// the token is kept in memory.
type TokenAuth struct {
	hash [sha256.Size]byte
}

// NewTokenAuth returns a TokenAuth accepting token. An empty token yields
// nil; callers treat a nil *TokenAuth as "admin access disabled".
func NewTokenAuth(token string) *TokenAuth {
	if token == "" {
		return nil
	}
	return &TokenAuth{hash: sha256.Sum256([]byte(token))}
}

// Authenticate extracts a Bearer token from the Authorization header and
// compares it in constant time.
func (a *TokenAuth) Authenticate(r *http.Request) error {
	if a == nil {
		return depot.ErrUnauthorized
	}
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return depot.ErrUnauthorized
	}
	got := sha256.Sum256([]byte(raw))
	if subtle.ConstantTimeCompare(got[:], a.hash[:]) != 1 {
		return depot.ErrUnauthorized
	}
	return nil
}
