// Package redis keeps OAuth states in Redis. Expiry is enforced by key TTLs
// and the single-use claim by GETDEL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/store"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces state keys.
const DefaultKeyPrefix = "oauth_state:"

// StateStore implements auth.StateStore.
type StateStore struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

// Option configures a StateStore.
type Option func(*StateStore)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *StateStore) { s.prefix = prefix }
}

// WithClock sets the clock used to derive key TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *StateStore) { s.now = now }
}

// NewStateStore returns a StateStore on rdb.
func NewStateStore(rdb redis.Cmdable, opts ...Option) *StateStore {
	s := &StateStore{rdb: rdb, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *StateStore) key(value string) string {
	return s.prefix + value
}

func (s *StateStore) CreateState(ctx context.Context, st auth.OAuthState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode oauth state: %w", err)
	}
	// A state already past its expiry still gets a short-lived key so that
	// duplicate values are detected.
	ttl := max(st.ExpiresAt.Sub(s.now()), time.Millisecond)
	ok, err := s.rdb.SetNX(ctx, s.key(st.StateValue), string(payload), ttl).Result()
	if err != nil {
		return fmt.Errorf("create oauth state: %w", err)
	}
	if !ok {
		return store.ErrConflict
	}
	return nil
}

func (s *StateStore) ClaimState(ctx context.Context, value string, now time.Time) (auth.OAuthState, bool, error) {
	payload, err := s.rdb.GetDel(ctx, s.key(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.OAuthState{}, false, nil
		}
		return auth.OAuthState{}, false, fmt.Errorf("claim oauth state: %w", err)
	}
	var st auth.OAuthState
	if err := json.Unmarshal(payload, &st); err != nil {
		return auth.OAuthState{}, false, fmt.Errorf("decode oauth state: %w", err)
	}
	if st.Used || !st.ExpiresAt.After(now) {
		return auth.OAuthState{}, false, nil
	}
	st.Used = true
	return st, true, nil
}

// PurgeStates is a no-op: claimed keys are deleted and the rest expire.
func (s *StateStore) PurgeStates(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

var _ auth.StateStore = (*StateStore)(nil)
