package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asvalue/asvalue-auth/session"
	"github.com/asvalue/asvalue-auth/store"
)

// CreateSession inserts s. Only a digest of the token is stored.
func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (
		   id, token_hash, user_id,
		   user_agent, ip_address, timezone, language,
		   created_at, token_issued_at, expires_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, store.HashToken(sess.Token), sess.UserID,
		sess.Fingerprint.UserAgent, sess.Fingerprint.IPAddress, sess.Fingerprint.Timezone, sess.Fingerprint.Language,
		toMillis(sess.CreatedAt), toMillis(sess.TokenIssuedAt), toMillis(sess.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSessionByToken looks a session up by token digest.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (session.Session, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_id, user_agent, ip_address, timezone, language,
		        created_at, token_issued_at, expires_at
		   FROM sessions
		  WHERE token_hash = ?`,
		store.HashToken(token),
	)
	var sess session.Session
	var createdAt, issuedAt, expiresAt int64
	err := row.Scan(
		&sess.ID, &sess.UserID,
		&sess.Fingerprint.UserAgent, &sess.Fingerprint.IPAddress, &sess.Fingerprint.Timezone, &sess.Fingerprint.Language,
		&createdAt, &issuedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, false, nil
		}
		return session.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	sess.Token = token
	sess.CreatedAt = fromMillis(createdAt)
	sess.TokenIssuedAt = fromMillis(issuedAt)
	sess.ExpiresAt = fromMillis(expiresAt)
	return sess, true, nil
}

// RotateSessionToken swaps the token digest if the session still carries oldToken.
func (s *Store) RotateSessionToken(ctx context.Context, id, oldToken, newToken string, issuedAt time.Time) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions
		    SET token_hash = ?, token_issued_at = ?
		  WHERE id = ? AND token_hash = ?`,
		store.HashToken(newToken), toMillis(issuedAt), id, store.HashToken(oldToken),
	)
	if err != nil {
		return false, fmt.Errorf("rotate session token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteSession removes the session with the given id, if any.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeSessions deletes sessions that expired at or before now.
func (s *Store) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
