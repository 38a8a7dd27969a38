package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/store"
	"github.com/jackc/pgx/v5"
)

const profileColumns = `id, email, full_name, avatar_url, google_id, role,
	onboarding_completed, created_at, updated_at`

func scanProfile(row pgx.Row) (profile.Profile, bool, error) {
	var p profile.Profile
	var role string
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.GoogleID, &role,
		&p.OnboardingCompleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, false, nil
		}
		return profile.Profile{}, false, fmt.Errorf("get profile: %w", err)
	}
	p.Role = profile.Role(role)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, true, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, bool, error) {
	return scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, bool, error) {
	return scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, email))
}

func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Email, p.FullName, p.AvatarURL, p.GoogleID, string(p.Role),
		p.OnboardingCompleted, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, p profile.Profile) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE profiles
		    SET email = $1, full_name = $2, avatar_url = $3, google_id = $4, role = $5,
		        onboarding_completed = $6, updated_at = $7
		  WHERE id = $8`,
		p.Email, p.FullName, p.AvatarURL, p.GoogleID, string(p.Role),
		p.OnboardingCompleted, p.UpdatedAt.UTC(), p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return profile.ErrNotFound
	}
	return nil
}
