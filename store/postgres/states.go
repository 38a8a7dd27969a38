package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/store"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateState(ctx context.Context, st auth.OAuthState) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO oauth_states (state_value, code_verifier, next_url, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		st.StateValue, st.CodeVerifier, st.NextURL, st.ExpiresAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create oauth state: %w", err)
	}
	return nil
}

// ClaimState consumes the state with one conditional UPDATE; concurrent
// claims serialise on the row lock and only the first sees used = false.
func (s *Store) ClaimState(ctx context.Context, value string, now time.Time) (auth.OAuthState, bool, error) {
	var st auth.OAuthState
	err := s.db.QueryRow(ctx,
		`UPDATE oauth_states
		    SET used = TRUE
		  WHERE state_value = $1 AND used = FALSE AND expires_at > $2
		 RETURNING state_value, code_verifier, next_url, expires_at`,
		value, now.UTC(),
	).Scan(&st.StateValue, &st.CodeVerifier, &st.NextURL, &st.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.OAuthState{}, false, nil
		}
		return auth.OAuthState{}, false, fmt.Errorf("claim oauth state: %w", err)
	}
	st.ExpiresAt = st.ExpiresAt.UTC()
	st.Used = true
	return st, true, nil
}

func (s *Store) PurgeStates(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM oauth_states WHERE used OR expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge oauth states: %w", err)
	}
	return tag.RowsAffected(), nil
}
