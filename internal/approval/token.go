package approval

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 256 bits of entropy, enough to make guessing infeasible.
// Uniqueness is still enforced by the (RequestID, Token) key; on the absurdly
// unlikely collision the issuer regenerates.
const tokenBytes = 32

// NewToken returns a cryptographically unguessable opaque token, URL-safe so it
// can be embedded in decision links without escaping.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
