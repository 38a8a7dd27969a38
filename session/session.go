// Package session manages server-side sign-in sessions: creation, lookup,
// fingerprint checks and periodic token rotation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrFingerprintMismatch = errors.New("session fingerprint mismatch")
)

// DefaultTTL is the absolute lifetime of a session.
const DefaultTTL = 7 * 24 * time.Hour

// Session is the server-side record of a signed-in browser.
type Session struct {
	ID            string      `json:"id"`
	Token         string      `json:"-"`
	UserID        string      `json:"user_id"`
	Fingerprint   Fingerprint `json:"fingerprint"`
	CreatedAt     time.Time   `json:"created_at"`
	TokenIssuedAt time.Time   `json:"token_issued_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

// Store persists sessions.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	// GetSessionByToken returns ok=false when no session carries token.
	GetSessionByToken(ctx context.Context, token string) (s Session, ok bool, err error)
	// RotateSessionToken swaps oldToken for newToken only if the session still
	// carries oldToken, and reports whether the swap happened.
	RotateSessionToken(ctx context.Context, id, oldToken, newToken string, issuedAt time.Time) (bool, error)
	DeleteSession(ctx context.Context, id string) error
	// PurgeSessions removes sessions that expired before now.
	PurgeSessions(ctx context.Context, now time.Time) (int64, error)
}

// Manager implements the session lifecycle on top of a Store.
type Manager struct {
	store Store
	audit *audit.Logger
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the absolute session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager backed by store. Security-relevant events are
// written to auditLog.
func NewManager(store Store, auditLog *audit.Logger, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		audit: auditLog,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the absolute session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create starts a new session for userID.
func (m *Manager) Create(ctx context.Context, userID string, fp Fingerprint) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:            uuid.NewString(),
		Token:         CreateSecureSessionToken(),
		UserID:        userID,
		Fingerprint:   fp,
		CreatedAt:     now,
		TokenIssuedAt: now,
		ExpiresAt:     now.Add(m.ttl),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Resolve looks up the session carrying token and checks it against the
// current request fingerprint. When the token is older than RotationAge a new
// token is issued and rotated is true; the caller must hand the new token to
// the client.
//
// A fingerprint mismatch revokes the session and records suspicious activity.
func (m *Manager) Resolve(ctx context.Context, token string, fp Fingerprint) (s Session, rotated bool, err error) {
	if token == "" {
		return Session{}, false, ErrNotFound
	}
	s, ok, err := m.store.GetSessionByToken(ctx, token)
	if err != nil {
		return Session{}, false, fmt.Errorf("get session: %w", err)
	}
	now := m.now().UTC()
	if !ok || !now.Before(s.ExpiresAt) {
		return Session{}, false, ErrNotFound
	}

	if !ValidateFingerprint(s.Fingerprint, fp) {
		if err := m.store.DeleteSession(ctx, s.ID); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("session_id", s.ID).Msg("revoke hijacked session")
		}
		m.record(ctx, audit.Entry{
			UserID:       s.UserID,
			EventType:    audit.EventSuspiciousActivity,
			IPAddress:    fp.IPAddress,
			UserAgent:    fp.UserAgent,
			SessionID:    s.ID,
			ErrorMessage: "user agent changed during session",
			Details: map[string]any{
				"stored_user_agent": s.Fingerprint.UserAgent,
				"stored_ip":         s.Fingerprint.IPAddress,
			},
		})
		return Session{}, false, ErrFingerprintMismatch
	}

	if !ShouldRotateToken(now.Sub(s.TokenIssuedAt)) {
		return s, false, nil
	}

	newToken := CreateSecureSessionToken()
	swapped, err := m.store.RotateSessionToken(ctx, s.ID, s.Token, newToken, now)
	if err != nil {
		return Session{}, false, fmt.Errorf("rotate session token: %w", err)
	}
	if !swapped {
		// A concurrent request rotated first; this token is now stale.
		return Session{}, false, ErrNotFound
	}
	s.Token = newToken
	s.TokenIssuedAt = now
	m.record(ctx, audit.Entry{
		UserID:    s.UserID,
		EventType: audit.EventTokenRefresh,
		IPAddress: fp.IPAddress,
		UserAgent: fp.UserAgent,
		SessionID: s.ID,
		Success:   true,
	})
	return s, true, nil
}

// Revoke ends s and records a sign-out.
func (m *Manager) Revoke(ctx context.Context, s Session, fp Fingerprint) error {
	if err := m.store.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.record(ctx, audit.Entry{
		UserID:    s.UserID,
		EventType: audit.EventSignOut,
		IPAddress: fp.IPAddress,
		UserAgent: fp.UserAgent,
		SessionID: s.ID,
		Success:   true,
	})
	return nil
}

// Discard deletes the session with the given id without recording a
// sign-out. It undoes a Create whose sign-in could not be completed.
func (m *Manager) Discard(ctx context.Context, id string) error {
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Purge removes expired sessions.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	return m.store.PurgeSessions(ctx, m.now().UTC())
}

// record writes an audit entry for an event that has already happened; a
// write failure is logged by the audit Logger and does not undo the event.
func (m *Manager) record(ctx context.Context, e audit.Entry) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Record(ctx, e)
}
