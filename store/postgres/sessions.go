package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asvalue/asvalue-auth/session"
	"github.com/asvalue/asvalue-auth/store"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	fp := sess.Fingerprint
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (
		   id, token_hash, user_id, user_agent, ip_address, timezone, language,
		   created_at, token_issued_at, expires_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, store.HashToken(sess.Token), sess.UserID,
		fp.UserAgent, fp.IPAddress, fp.Timezone, fp.Language,
		sess.CreatedAt.UTC(), sess.TokenIssuedAt.UTC(), sess.ExpiresAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (session.Session, bool, error) {
	var sess session.Session
	fp := &sess.Fingerprint
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, user_agent, ip_address, timezone, language,
		        created_at, token_issued_at, expires_at
		   FROM sessions
		  WHERE token_hash = $1`,
		store.HashToken(token),
	).Scan(&sess.ID, &sess.UserID, &fp.UserAgent, &fp.IPAddress, &fp.Timezone, &fp.Language,
		&sess.CreatedAt, &sess.TokenIssuedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, false, nil
		}
		return session.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	sess.Token = token
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.TokenIssuedAt = sess.TokenIssuedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return sess, true, nil
}

func (s *Store) RotateSessionToken(ctx context.Context, id, oldToken, newToken string, issuedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions SET token_hash = $1, token_issued_at = $2
		  WHERE id = $3 AND token_hash = $4`,
		store.HashToken(newToken), issuedAt.UTC(), id, store.HashToken(oldToken),
	)
	if err != nil {
		return false, fmt.Errorf("rotate session token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
