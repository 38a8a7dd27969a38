// Package audit records authentication events in an append-only log.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType classifies an audit entry.
type EventType string

const (
	EventSignIn             EventType = "signin"
	EventSignOut            EventType = "signout"
	EventFailure            EventType = "failure"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventTokenRefresh       EventType = "token_refresh"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSignIn, EventSignOut, EventFailure, EventSuspiciousActivity, EventTokenRefresh:
		return true
	}
	return false
}

// Entry is a single audit log record. Empty strings stand for absent values.
type Entry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	EventType    EventType      `json:"event_type"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store persists audit entries. Implementations never update or delete entries.
type Store interface {
	AppendAuditEntry(ctx context.Context, e Entry) error
	// ListAuditEntries returns the newest entries for userID first.
	ListAuditEntries(ctx context.Context, userID string, limit int) ([]Entry, error)
}

var ErrInvalidEvent = errors.New("audit: invalid event type")

// Logger stamps entries and appends them to a Store.
type Logger struct {
	store Store
	now   func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// NewLogger returns a Logger writing to store.
func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record assigns an ID and timestamp to e and appends it.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, e.EventType)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	log := zerolog.Ctx(ctx)
	evt := log.Info()
	if !e.Success {
		evt = log.Warn()
	}
	evt.Str("event", string(e.EventType)).
		Str("user_id", e.UserID).
		Str("session_id", e.SessionID).
		Str("error", e.ErrorMessage).
		Msg("auth event")

	if err := l.store.AppendAuditEntry(ctx, e); err != nil {
		log.Error().Err(err).Str("event", string(e.EventType)).Msg("audit write failed")
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Page sizes for Recent.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Recent returns up to limit entries for userID, newest first.
// A non-positive limit means DefaultRecentLimit; larger limits are capped at
// MaxRecentLimit.
func (l *Logger) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	} else if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	return l.store.ListAuditEntries(ctx, userID, limit)
}
