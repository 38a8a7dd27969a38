package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// tokenBytes is the entropy of a session token before hex encoding.
const tokenBytes = 32

// RotationAge is the token age after which a session token is reissued.
const RotationAge = 24 * time.Hour

// CreateSecureSessionToken returns 32 random bytes, hex-encoded.
func CreateSecureSessionToken() string {
	b := make([]byte, tokenBytes)
	// crypto/rand.Read never returns an error; it crashes the process if the
	// system source fails.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ShouldRotateToken reports whether a token of the given age must be rotated.
func ShouldRotateToken(age time.Duration) bool {
	return age > RotationAge
}
