package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/store"
)

// CreateState inserts an unused state record.
func (s *Store) CreateState(ctx context.Context, st auth.OAuthState) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO oauth_states (state_value, code_verifier, next_url, expires_at, used, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		st.StateValue, st.CodeVerifier, st.NextURL, toMillis(st.ExpiresAt), toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create oauth state: %w", err)
	}
	return nil
}

// ClaimState marks the state used in a single conditional UPDATE.
func (s *Store) ClaimState(ctx context.Context, value string, now time.Time) (auth.OAuthState, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`UPDATE oauth_states
		    SET used = 1
		  WHERE state_value = ? AND used = 0 AND expires_at > ?
		 RETURNING state_value, code_verifier, next_url, expires_at`,
		value, toMillis(now),
	)
	var st auth.OAuthState
	var expiresAt int64
	if err := row.Scan(&st.StateValue, &st.CodeVerifier, &st.NextURL, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.OAuthState{}, false, nil
		}
		return auth.OAuthState{}, false, fmt.Errorf("claim oauth state: %w", err)
	}
	st.ExpiresAt = fromMillis(expiresAt)
	st.Used = true
	return st, true, nil
}

// PurgeStates deletes used and expired states.
func (s *Store) PurgeStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE used = 1 OR expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge oauth states: %w", err)
	}
	return res.RowsAffected()
}
