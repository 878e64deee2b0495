// Package auth validates the bearer keys that guard the session API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidAPIKey is returned for unknown keys.
var ErrInvalidAPIKey = errors.New("invalid API key")

// hashPrefix marks a configured key that is already a SHA-256 hash.
const hashPrefix = "sha256:"

// Authenticator validates API keys against a fixed set of key hashes.
type Authenticator struct {
	hashes [][]byte
}

// NewAuthenticator creates an authenticator. Each key is either plaintext or
// "sha256:<hex>" for a pre-hashed key.
func NewAuthenticator(keys []string) *Authenticator {
	a := &Authenticator{}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, hashPrefix) {
			a.hashes = append(a.hashes, []byte(strings.ToLower(strings.TrimPrefix(key, hashPrefix))))
			continue
		}
		a.hashes = append(a.hashes, []byte(HashAPIKey(key)))
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.hashes) > 0
}

// ValidateAPIKey checks apiKey against every configured hash.
func (a *Authenticator) ValidateAPIKey(apiKey string) error {
	keyHash := []byte(HashAPIKey(apiKey))

	// Constant-time comparison to prevent timing attacks
	match := 0
	for _, h := range a.hashes {
		match |= subtle.ConstantTimeCompare(keyHash, h)
	}
	if match != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
