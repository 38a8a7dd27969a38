package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// stateLength is the number of random bytes behind a state value.
const stateLength = 32

// DefaultStateTTL bounds how long a sign-in attempt may take.
const DefaultStateTTL = 10 * time.Minute

// OAuthState is the server-side record of one in-flight authorization request.
type OAuthState struct {
	StateValue   string    `json:"state_value"`
	CodeVerifier string    `json:"code_verifier"`
	NextURL      string    `json:"next_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Used         bool      `json:"used"`
}

// StateStore persists OAuthState records.
type StateStore interface {
	CreateState(ctx context.Context, st OAuthState) error
	// ClaimState atomically marks the record for value as used, provided it is
	// unused and expires after now, and returns it. ok is false when no record
	// qualifies. Two concurrent claims for one value never both succeed.
	ClaimState(ctx context.Context, value string, now time.Time) (st OAuthState, ok bool, err error)
	// PurgeStates removes records that are used or expired at now.
	PurgeStates(ctx context.Context, now time.Time) (int64, error)
}

// GenerateState returns a fresh anti-CSRF state value: 32 random bytes,
// hex-encoded. It is independent of the PKCE verifier.
func GenerateState() string {
	b := make([]byte, stateLength)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StateManager binds state values to code verifiers.
type StateManager struct {
	store StateStore
	ttl   time.Duration
	now   func() time.Time
}

// StateOption configures a StateManager.
type StateOption func(*StateManager)

// WithStateTTL sets the state lifetime.
func WithStateTTL(ttl time.Duration) StateOption {
	return func(m *StateManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithStateClock overrides the time source.
func WithStateClock(now func() time.Time) StateOption {
	return func(m *StateManager) { m.now = now }
}

// NewStateManager returns a StateManager backed by store.
func NewStateManager(store StateStore, opts ...StateOption) *StateManager {
	m := &StateManager{store: store, ttl: DefaultStateTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store records state bound to verifier. A failed write must abort the flow.
func (m *StateManager) Store(ctx context.Context, state, verifier, nextURL string) error {
	st := OAuthState{
		StateValue:   state,
		CodeVerifier: verifier,
		NextURL:      nextURL,
		ExpiresAt:    m.now().UTC().Add(m.ttl),
	}
	if err := m.store.CreateState(ctx, st); err != nil {
		return fmt.Errorf("%w: store oauth state: %w", ErrStorageWrite, err)
	}
	return nil
}

// Validate consumes state and returns its record. It fails with
// ErrInvalidState for unknown, expired or already-used values.
func (m *StateManager) Validate(ctx context.Context, state string) (OAuthState, error) {
	if state == "" {
		return OAuthState{}, ErrInvalidState
	}
	st, ok, err := m.store.ClaimState(ctx, state, m.now().UTC())
	if err != nil {
		return OAuthState{}, fmt.Errorf("claim oauth state: %w", err)
	}
	if !ok {
		return OAuthState{}, ErrInvalidState
	}
	return st, nil
}

// Purge removes used and expired states.
func (m *StateManager) Purge(ctx context.Context) (int64, error) {
	return m.store.PurgeStates(ctx, m.now().UTC())
}
