// Package auth implements the authentication and quota gate: API-key
// verification against hashed secrets, quota enforcement, and per-key
// rate limiting, run before any detector work begins.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix is the mandatory plaintext prefix of every issued API key.
const KeyPrefix = "sk_live_"

// minRandomChars is the minimum length of the URL-safe random suffix
// after KeyPrefix.
const minRandomChars = 32

// GenerateAPIKey produces a new plaintext API key of the form
// sk_live_<url-safe random>, its SHA-256 hash (hex), and its display
// prefix (first 12 characters, stored alongside the hash so a user can
// recognize a key in a list without ever seeing the full secret again).
func GenerateAPIKey() (plaintext, hash, displayPrefix string, err error) {
	// base64 URL-safe encoding of 24 random bytes yields 32 characters,
	// satisfying the minimum length with no padding.
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate api key entropy: %w", err)
	}
	suffix := base64.RawURLEncoding.EncodeToString(raw)
	if len(suffix) < minRandomChars {
		return "", "", "", fmt.Errorf("generated suffix too short: %d chars", len(suffix))
	}
	plaintext = KeyPrefix + suffix
	hash = HashKey(plaintext)
	displayPrefix = plaintext[:12]
	return plaintext, hash, displayPrefix, nil
}

// HashKey returns the hex-encoded SHA-256 digest of a plaintext API key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken pulls the plaintext key out of an Authorization
// header, requiring the exact "Bearer " scheme and the sk_live_ prefix.
// Any other scheme or a malformed token is rejected at this layer,
// before a hash is even computed.
func ExtractBearerToken(authHeader string) (string, bool) {
	const schemePrefix = "Bearer "
	if !strings.HasPrefix(authHeader, schemePrefix) {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, schemePrefix)
	if !strings.HasPrefix(token, KeyPrefix) || len(token) < len(KeyPrefix)+minRandomChars {
		return "", false
	}
	return token, true
}

// constantTimeEqual compares two hex-encoded hashes without leaking
// timing information, used by callers that already have both digests
// (e.g. tests exercising hash comparison directly; the lookup path
// itself compares via an indexed equality query, which is already
// constant relative to key content).
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
