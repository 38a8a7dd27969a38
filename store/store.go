// Package store defines the persistence surface shared by the storage
// backends in its subpackages.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/session"
)

// ErrConflict is returned when a create collides with an existing record.
var ErrConflict = errors.New("store: record already exists")

// Backend persists everything the service needs.
type Backend interface {
	auth.StateStore
	session.Store
	audit.Store
	profile.Store
	Ping(ctx context.Context) error
	Close() error
}

// HashToken returns the digest under which SQL backends index a session
// token, so a leaked table does not hand out live sessions.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
