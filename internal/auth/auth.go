// Package auth guards the admin endpoints (provider enable/disable). The
// admin key is configured as a bcrypt hash; the plaintext key never touches
// config or logs.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Admin verifies admin keys against a configured bcrypt hash. A zero hash
// disables admin access entirely rather than allowing anonymous access.
type Admin struct {
	keyHash []byte
}

// NewAdmin creates an admin verifier. keyHash is the bcrypt hash of the admin
// key, or empty to disable admin access.
func NewAdmin(keyHash string) *Admin {
	return &Admin{keyHash: []byte(keyHash)}
}

// Enabled reports whether an admin key hash is configured.
func (a *Admin) Enabled() bool {
	return len(a.keyHash) > 0
}

// Verify checks a presented admin key.
func (a *Admin) Verify(key string) bool {
	if !a.Enabled() || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.keyHash, []byte(key)) == nil
}

// Middleware rejects requests without a valid "Bearer <key>" Authorization
// header.
func (a *Admin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(bearerToken(r)) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.ToLower(scheme)), []byte("bearer")) != 1 {
		return ""
	}
	return strings.TrimSpace(token)
}

// HashKey produces a bcrypt hash for storing a new admin key. Used by the
// ops tooling, not the request path.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
