package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/asvalue/asvalue-auth/store/memory"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newManager(t *testing.T) (*session.Manager, *memory.Store, *testClock) {
	t.Helper()
	st := memory.New()
	c := &testClock{t: time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)}
	m := session.NewManager(st, audit.NewLogger(st, audit.WithClock(c.Now)), session.WithClock(c.Now))
	return m, st, c
}

var browser = session.Fingerprint{UserAgent: "Mozilla/5.0", IPAddress: "203.0.113.7", Timezone: "UTC", Language: "en"}

func eventTypes(st *memory.Store) []audit.EventType {
	var out []audit.EventType
	for _, e := range st.AuditEntries() {
		out = append(out, e.EventType)
	}
	return out
}

func TestManager_CreateResolve(t *testing.T) {
	ctx := context.Background()
	m, _, c := newManager(t)

	s, err := m.Create(ctx, "u1", browser)
	require.NoError(t, err)
	require.Len(t, s.Token, 64)
	require.Equal(t, c.t.Add(session.DefaultTTL), s.ExpiresAt)

	c.t = c.t.Add(time.Hour)
	got, rotated, err := m.Resolve(ctx, s.Token, browser)
	require.NoError(t, err)
	require.False(t, rotated)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, "u1", got.UserID)
}

func TestManager_ResolveExpired(t *testing.T) {
	ctx := context.Background()
	m, _, c := newManager(t)
	s, err := m.Create(ctx, "u1", browser)
	require.NoError(t, err)

	c.t = s.ExpiresAt
	_, _, err = m.Resolve(ctx, s.Token, browser)
	require.ErrorIs(t, err, session.ErrNotFound)

	n, err := m.Purge(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestManager_ResolveUnknown(t *testing.T) {
	m, _, _ := newManager(t)
	for _, tok := range []string{"", "deadbeef"} {
		_, _, err := m.Resolve(context.Background(), tok, browser)
		require.ErrorIs(t, err, session.ErrNotFound)
	}
}

func TestManager_RotationBoundary(t *testing.T) {
	ctx := context.Background()
	m, st, c := newManager(t)
	s, err := m.Create(ctx, "u1", browser)
	require.NoError(t, err)
	issued := c.t

	c.t = issued.Add(session.RotationAge - time.Millisecond)
	_, rotated, err := m.Resolve(ctx, s.Token, browser)
	require.NoError(t, err)
	require.False(t, rotated)

	c.t = issued.Add(session.RotationAge + time.Millisecond)
	got, rotated, err := m.Resolve(ctx, s.Token, browser)
	require.NoError(t, err)
	require.True(t, rotated)
	require.NotEqual(t, s.Token, got.Token)
	require.Equal(t, c.t, got.TokenIssuedAt)
	require.Equal(t, []audit.EventType{audit.EventTokenRefresh}, eventTypes(st))

	_, _, err = m.Resolve(ctx, s.Token, browser)
	require.ErrorIs(t, err, session.ErrNotFound, "old token must stop working after rotation")

	_, rotated, err = m.Resolve(ctx, got.Token, browser)
	require.NoError(t, err)
	require.False(t, rotated)
}

func TestManager_FingerprintMismatchRevokes(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)
	s, err := m.Create(ctx, "u1", browser)
	require.NoError(t, err)

	roaming := browser
	roaming.IPAddress = "198.51.100.1"
	_, _, err = m.Resolve(ctx, s.Token, roaming)
	require.NoError(t, err, "an IP change alone must not end the session")

	thief := browser
	thief.UserAgent = "curl/8.0"
	_, _, err = m.Resolve(ctx, s.Token, thief)
	require.ErrorIs(t, err, session.ErrFingerprintMismatch)

	_, _, err = m.Resolve(ctx, s.Token, browser)
	require.ErrorIs(t, err, session.ErrNotFound)

	entries := st.AuditEntries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.EventSuspiciousActivity, entries[0].EventType)
	require.Equal(t, "u1", entries[0].UserID)
	require.Equal(t, s.ID, entries[0].SessionID)
	require.False(t, entries[0].Success)
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)
	s, err := m.Create(ctx, "u1", browser)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, s, browser))
	_, _, err = m.Resolve(ctx, s.Token, browser)
	require.ErrorIs(t, err, session.ErrNotFound)
	require.Equal(t, []audit.EventType{audit.EventSignOut}, eventTypes(st))
}

type failingSessions struct{ *memory.Store }

func (failingSessions) CreateSession(context.Context, session.Session) error {
	return errors.New("read-only replica")
}

func TestManager_CreateFailure(t *testing.T) {
	st := failingSessions{memory.New()}
	m := session.NewManager(st, audit.NewLogger(st))
	_, err := m.Create(context.Background(), "u1", browser)
	require.Error(t, err)
}
