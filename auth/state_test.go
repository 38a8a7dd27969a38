package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestStateManager_SingleUse(t *testing.T) {
	ctx := context.Background()
	m := auth.NewStateManager(memory.New())

	state := auth.GenerateState()
	if err := m.Store(ctx, state, "verifier", "/dashboard"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	st, err := m.Validate(ctx, state)
	if err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if st.CodeVerifier != "verifier" || st.NextURL != "/dashboard" {
		t.Errorf("unexpected state record %+v", st)
	}

	if _, err := m.Validate(ctx, state); !errors.Is(err, auth.ErrInvalidState) {
		t.Fatalf("second Validate err = %v, want ErrInvalidState", err)
	}
}

func TestStateManager_Expiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	m := auth.NewStateManager(memory.New(), auth.WithStateClock(c.now))

	fresh, stale := auth.GenerateState(), auth.GenerateState()
	for _, s := range []string{fresh, stale} {
		if err := m.Store(ctx, s, "v", ""); err != nil {
			t.Fatal(err)
		}
	}

	c.t = c.t.Add(auth.DefaultStateTTL - time.Second)
	if _, err := m.Validate(ctx, fresh); err != nil {
		t.Fatalf("Validate before expiry: %v", err)
	}

	c.t = c.t.Add(time.Second)
	if _, err := m.Validate(ctx, stale); !errors.Is(err, auth.ErrInvalidState) {
		t.Fatalf("Validate at expiry err = %v, want ErrInvalidState", err)
	}

	n, err := m.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("purged %d states, want 2", n)
	}
}

func TestStateManager_UnknownAndEmpty(t *testing.T) {
	ctx := context.Background()
	m := auth.NewStateManager(memory.New())
	for _, s := range []string{"", "never-issued"} {
		if _, err := m.Validate(ctx, s); !errors.Is(err, auth.ErrInvalidState) {
			t.Errorf("Validate(%q) err = %v, want ErrInvalidState", s, err)
		}
	}
}

type failingStates struct {
	*memory.Store
}

func (failingStates) CreateState(context.Context, auth.OAuthState) error {
	return errors.New("disk full")
}

func TestStateManager_StoreFailure(t *testing.T) {
	m := auth.NewStateManager(failingStates{memory.New()})
	err := m.Store(context.Background(), auth.GenerateState(), "v", "")
	if !errors.Is(err, auth.ErrStorageWrite) {
		t.Fatalf("err = %v, want ErrStorageWrite", err)
	}
	if got := auth.ErrorKind(err); got != "storage_failed" {
		t.Errorf("ErrorKind = %q, want storage_failed", got)
	}
}
