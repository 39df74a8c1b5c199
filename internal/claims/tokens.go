// Package claims - tokens.go generates and digests email-challenge tokens. The raw
// token travels only inside the verification email; the database stores its SHA-256
// digest, so verification looks the token up by digest and a leaked table cannot be
// replayed.
package claims

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a challenge token before encoding.
const tokenBytes = 32

// NewChallengeToken returns a fresh random token and its storable digest
func NewChallengeToken() (raw, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// HashToken returns the hex SHA-256 digest of a raw token
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
