// Package memory is a thread-safe in-memory storage backend for development
// and tests. Nothing survives a restart.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/asvalue/asvalue-auth/store"
)

// Store implements store.Backend.
type Store struct {
	mu       sync.RWMutex
	states   map[string]auth.OAuthState
	sessions map[string]session.Session // by id
	tokens   map[string]string          // token -> session id
	audit    []audit.Entry
	profiles map[string]profile.Profile // by id
	emails   map[string]string          // email -> profile id
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		states:   make(map[string]auth.OAuthState),
		sessions: make(map[string]session.Session),
		tokens:   make(map[string]string),
		profiles: make(map[string]profile.Profile),
		emails:   make(map[string]string),
	}
}

// Ping implements store.Backend.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close implements store.Backend.
func (s *Store) Close() error { return nil }

func (s *Store) CreateState(ctx context.Context, st auth.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[st.StateValue]; ok {
		return store.ErrConflict
	}
	s.states[st.StateValue] = st
	return nil
}

func (s *Store) ClaimState(ctx context.Context, value string, now time.Time) (auth.OAuthState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[value]
	if !ok || st.Used || !st.ExpiresAt.After(now) {
		return auth.OAuthState{}, false, nil
	}
	st.Used = true
	s.states[value] = st
	return st, true, nil
}

func (s *Store) PurgeStates(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, st := range s.states {
		if st.Used || !st.ExpiresAt.After(now) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.tokens[sess.Token]; ok {
		return store.ErrConflict
	}
	s.sessions[sess.ID] = sess
	s.tokens[sess.Token] = sess.ID
	return nil
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (session.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return session.Session{}, false, nil
	}
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *Store) RotateSessionToken(ctx context.Context, id, oldToken, newToken string, issuedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Token != oldToken {
		return false, nil
	}
	delete(s.tokens, oldToken)
	sess.Token = newToken
	sess.TokenIssuedAt = issuedAt
	s.sessions[id] = sess
	s.tokens[newToken] = id
	return true, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		delete(s.tokens, sess.Token)
		delete(s.sessions, id)
	}
	return nil
}

func (s *Store) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.tokens, sess.Token)
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Details != nil {
		e.Details = maps.Clone(e.Details)
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAuditEntries(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.audit {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AuditEntries returns every entry in insertion order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.audit...)
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok, nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return profile.Profile{}, false, nil
	}
	p, ok := s.profiles[id]
	return p, ok, nil
}

func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.emails[p.Email]; ok {
		return store.ErrConflict
	}
	s.profiles[p.ID] = p
	s.emails[p.Email] = p.ID
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, p profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.profiles[p.ID]
	if !ok {
		return profile.ErrNotFound
	}
	if old.Email != p.Email {
		if _, taken := s.emails[p.Email]; taken {
			return store.ErrConflict
		}
		delete(s.emails, old.Email)
		s.emails[p.Email] = p.ID
	}
	s.profiles[p.ID] = p
	return nil
}

var _ store.Backend = (*Store)(nil)
