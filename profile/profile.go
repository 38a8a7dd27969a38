// Package profile owns the public marketplace profile and seller onboarding.
package profile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Role is the marketplace role chosen during onboarding.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Profile is the public profile of a signed-in user.
type Profile struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FullName            string    `json:"full_name"`
	AvatarURL           string    `json:"avatar_url,omitempty"`
	GoogleID            string    `json:"-"`
	Role                Role      `json:"role,omitempty"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Identity is the provider-verified identity used to create or refresh a profile.
type Identity struct {
	ProviderID    string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Store persists profiles.
type Store interface {
	GetProfile(ctx context.Context, id string) (Profile, bool, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, bool, error)
	CreateProfile(ctx context.Context, p Profile) error
	UpdateProfile(ctx context.Context, p Profile) error
}

var (
	ErrNotFound        = errors.New("profile not found")
	ErrUnverifiedEmail = errors.New("email address is not verified")
	ErrRoleRequired    = errors.New("a role must be chosen before onboarding completes")
)

// UpdateRequest carries the user-editable profile fields. Nil fields are left unchanged.
type UpdateRequest struct {
	FullName *string `json:"full_name,omitempty" validate:"omitempty,min=1,max=120"`
	Role     *Role   `json:"role,omitempty" validate:"omitempty,oneof=buyer seller"`
}

// Service implements profile operations.
type Service struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
}

// NewService returns a Service backed by store.
func NewService(store Store, validate *validator.Validate) *Service {
	if validate == nil {
		validate = NewValidator()
	}
	return &Service{store: store, validate: validate, now: time.Now}
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Get returns the profile with the given id.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	p, ok, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// EnsureFromIdentity returns the profile matching id.Email, creating it on
// first sign-in. Name and avatar are filled from the provider only while the
// profile has none.
func (s *Service) EnsureFromIdentity(ctx context.Context, id Identity) (Profile, error) {
	if !id.EmailVerified {
		return Profile{}, ErrUnverifiedEmail
	}
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return Profile{}, fmt.Errorf("invalid email from provider: %w", err)
	}

	now := s.now().UTC()
	p, ok, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile by email: %w", err)
	}
	if !ok {
		p = Profile{
			ID:        uuid.NewString(),
			Email:     email,
			FullName:  id.Name,
			AvatarURL: id.Picture,
			GoogleID:  id.ProviderID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateProfile(ctx, p); err != nil {
			return Profile{}, fmt.Errorf("create profile: %w", err)
		}
		return p, nil
	}

	changed := false
	if p.GoogleID == "" && id.ProviderID != "" {
		p.GoogleID, changed = id.ProviderID, true
	}
	if p.FullName == "" && id.Name != "" {
		p.FullName, changed = id.Name, true
	}
	if p.AvatarURL == "" && id.Picture != "" {
		p.AvatarURL, changed = id.Picture, true
	}
	if changed {
		p.UpdatedAt = now
		if err := s.store.UpdateProfile(ctx, p); err != nil {
			return Profile{}, fmt.Errorf("update profile: %w", err)
		}
	}
	return p, nil
}

// Update applies req to the profile with the given id.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Profile, error) {
	if req.FullName != nil {
		trimmed := strings.TrimSpace(*req.FullName)
		req.FullName = &trimmed
	}
	if err := s.validate.Struct(req); err != nil {
		return Profile{}, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if req.FullName != nil {
		p.FullName = *req.FullName
	}
	if req.Role != nil {
		p.Role = *req.Role
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

// CompleteOnboarding marks onboarding done. The profile must have a role.
func (s *Service) CompleteOnboarding(ctx context.Context, id string) (Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if p.Role == "" {
		return Profile{}, ErrRoleRequired
	}
	if p.OnboardingCompleted {
		return p, nil
	}
	p.OnboardingCompleted = true
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}
