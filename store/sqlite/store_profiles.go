package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/store"
)

const profileColumns = `id, email, full_name, avatar_url, google_id, role,
	onboarding_completed, created_at, updated_at`

func scanProfile(row *sql.Row) (profile.Profile, bool, error) {
	var p profile.Profile
	var role string
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.GoogleID, &role,
		&p.OnboardingCompleted, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.Profile{}, false, nil
		}
		return profile.Profile{}, false, fmt.Errorf("get profile: %w", err)
	}
	p.Role = profile.Role(role)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, true, nil
}

// GetProfile returns the profile with the given id.
func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, bool, error) {
	return scanProfile(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
}

// GetProfileByEmail returns the profile registered under email.
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, bool, error) {
	return scanProfile(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE email = ?`, email))
}

// CreateProfile inserts p.
func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.FullName, p.AvatarURL, p.GoogleID, string(p.Role),
		p.OnboardingCompleted, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfile overwrites the mutable columns of p.
func (s *Store) UpdateProfile(ctx context.Context, p profile.Profile) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE profiles
		    SET email = ?, full_name = ?, avatar_url = ?, google_id = ?, role = ?,
		        onboarding_completed = ?, updated_at = ?
		  WHERE id = ?`,
		p.Email, p.FullName, p.AvatarURL, p.GoogleID, string(p.Role),
		p.OnboardingCompleted, toMillis(p.UpdatedAt), p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return profile.ErrNotFound
	}
	return nil
}
