package profile_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/store/memory"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

var ada = profile.Identity{
	ProviderID:    "g-1081",
	Email:         " Ada@Example.com ",
	EmailVerified: true,
	Name:          "Ada Lovelace",
	Picture:       "https://img.example/ada.png",
}

func TestEnsureFromIdentity_CreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	svc := profile.NewService(memory.New(), nil)

	p, err := svc.EnsureFromIdentity(ctx, ada)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", p.Email)
	require.Equal(t, "Ada Lovelace", p.FullName)
	require.False(t, p.OnboardingCompleted)

	renamed, err := svc.Update(ctx, p.ID, profile.UpdateRequest{FullName: ptr("Countess of Lovelace")})
	require.NoError(t, err)

	again, err := svc.EnsureFromIdentity(ctx, ada)
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)
	require.Equal(t, renamed.FullName, again.FullName, "provider name must not overwrite an edited name")
}

func TestEnsureFromIdentity_Rejects(t *testing.T) {
	svc := profile.NewService(memory.New(), nil)

	unverified := ada
	unverified.EmailVerified = false
	_, err := svc.EnsureFromIdentity(context.Background(), unverified)
	require.ErrorIs(t, err, profile.ErrUnverifiedEmail)

	bad := ada
	bad.Email = "not-an-email"
	_, err = svc.EnsureFromIdentity(context.Background(), bad)
	require.Error(t, err)
}

func TestUpdate_Validation(t *testing.T) {
	ctx := context.Background()
	svc := profile.NewService(memory.New(), nil)
	p, err := svc.EnsureFromIdentity(ctx, ada)
	require.NoError(t, err)

	tests := []struct {
		name  string
		req   profile.UpdateRequest
		field string
	}{
		{"blank name", profile.UpdateRequest{FullName: ptr("   ")}, "full_name"},
		{"long name", profile.UpdateRequest{FullName: ptr(strings.Repeat("a", 121))}, "full_name"},
		{"unknown role", profile.UpdateRequest{Role: ptr(profile.Role("admin"))}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, p.ID, tt.req)
			var verrs validator.ValidationErrors
			require.True(t, errors.As(err, &verrs), "err = %v", err)
			require.Equal(t, tt.field, verrs[0].Field())
		})
	}

	got, err := svc.Update(ctx, p.ID, profile.UpdateRequest{FullName: ptr(strings.Repeat("a", 120)), Role: ptr(profile.RoleSeller)})
	require.NoError(t, err)
	require.Equal(t, profile.RoleSeller, got.Role)
}

func TestCompleteOnboarding(t *testing.T) {
	ctx := context.Background()
	svc := profile.NewService(memory.New(), nil)
	p, err := svc.EnsureFromIdentity(ctx, ada)
	require.NoError(t, err)

	_, err = svc.CompleteOnboarding(ctx, p.ID)
	require.ErrorIs(t, err, profile.ErrRoleRequired)

	_, err = svc.Update(ctx, p.ID, profile.UpdateRequest{Role: ptr(profile.RoleBuyer)})
	require.NoError(t, err)

	done, err := svc.CompleteOnboarding(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, done.OnboardingCompleted)

	_, err = svc.CompleteOnboarding(ctx, "missing")
	require.ErrorIs(t, err, profile.ErrNotFound)
}
