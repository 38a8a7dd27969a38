package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/asvalue/asvalue-auth/store"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.February, 22, 16, 40, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestClaimState(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	st := auth.OAuthState{StateValue: "s1", CodeVerifier: "v1", NextURL: "/dashboard", ExpiresAt: now.Add(10 * time.Minute)}
	require.NoError(t, s.CreateState(ctx, st))
	require.ErrorIs(t, s.CreateState(ctx, st), store.ErrConflict)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := s.ClaimState(ctx, "s1", now)
			if err == nil && ok && got.CodeVerifier == "v1" && got.NextURL == "/dashboard" {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	require.NoError(t, s.CreateState(ctx, auth.OAuthState{StateValue: "s2", CodeVerifier: "v2", ExpiresAt: now}))
	_, ok, err := s.ClaimState(ctx, "s2", now)
	require.NoError(t, err)
	require.False(t, ok, "state expiring now must not be claimable")

	_, ok, err = s.ClaimState(ctx, "unknown", now)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.PurgeStates(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	sess := session.Session{
		ID:            "sess-1",
		Token:         "tok-1",
		UserID:        "u1",
		Fingerprint:   session.Fingerprint{UserAgent: "Mozilla/5.0", IPAddress: "203.0.113.7", Timezone: "UTC", Language: "en"},
		CreatedAt:     now,
		TokenIssuedAt: now,
		ExpiresAt:     now.Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, ok, err := s.GetSessionByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess, got)

	var stored string
	require.NoError(t, s.sqlDB.QueryRow(`SELECT token_hash FROM sessions WHERE id = ?`, "sess-1").Scan(&stored))
	require.NotEqual(t, "tok-1", stored)

	swapped, err := s.RotateSessionToken(ctx, "sess-1", "tok-1", "tok-2", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, swapped)
	swapped, err = s.RotateSessionToken(ctx, "sess-1", "tok-1", "tok-3", now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, swapped)

	_, ok, err = s.GetSessionByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err = s.GetSessionByToken(ctx, "tok-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now.Add(time.Minute), got.TokenIssuedAt)

	n, err := s.PurgeSessions(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	entries := []audit.Entry{
		{ID: "a1", UserID: "u1", EventType: audit.EventSignIn, Success: true, SessionID: "sess-1", CreatedAt: now},
		{ID: "a2", UserID: "u1", EventType: audit.EventTokenRefresh, Success: true, CreatedAt: now.Add(time.Minute)},
		{ID: "a3", EventType: audit.EventFailure, ErrorMessage: "invalid state", Details: map[string]any{"kind": "invalid_state"}, CreatedAt: now},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAuditEntry(ctx, e))
	}

	got, err := s.ListAuditEntries(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a2", got[0].ID)
	require.Equal(t, "sess-1", got[1].SessionID)

	require.Error(t, s.AppendAuditEntry(ctx, audit.Entry{ID: "a4", EventType: "login", CreatedAt: now}))

	_, err = s.sqlDB.Exec(`UPDATE auth_audit_log SET success = 1 WHERE id = 'a3'`)
	require.ErrorContains(t, err, "append-only")
	_, err = s.sqlDB.Exec(`DELETE FROM auth_audit_log`)
	require.ErrorContains(t, err, "append-only")
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	p := profile.Profile{ID: "p1", Email: "ada@example.com", FullName: "Ada", GoogleID: "g-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateProfile(ctx, p))
	require.ErrorIs(t, s.CreateProfile(ctx, profile.Profile{ID: "p2", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}), store.ErrConflict)

	got, ok, err := s.GetProfileByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p, got)

	p.Role = profile.RoleSeller
	p.OnboardingCompleted = true
	p.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateProfile(ctx, p))

	got, ok, err = s.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p, got)

	require.ErrorIs(t, s.UpdateProfile(ctx, profile.Profile{ID: "missing"}), profile.ErrNotFound)

	_, ok, err = s.GetProfile(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
