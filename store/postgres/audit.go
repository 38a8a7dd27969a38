package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asvalue/asvalue-auth/audit"
)

func (s *Store) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_audit_log (
		   id, user_id, event_type, ip_address, user_agent, session_id,
		   details, success, error_message, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)`,
		e.ID, nullable(e.UserID), string(e.EventType), nullable(e.IPAddress), nullable(e.UserAgent),
		nullable(e.SessionID), nullable(string(details)), e.Success, nullable(e.ErrorMessage), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAuditEntries(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, event_type, ip_address, user_agent, session_id,
		        details::text, success, error_message, created_at
		   FROM auth_audit_log
		  WHERE user_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var uid, ip, ua, sid, details, msg *string
		var eventType string
		if err := rows.Scan(&e.ID, &uid, &eventType, &ip, &ua, &sid, &details, &e.Success, &msg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.UserID, e.IPAddress, e.UserAgent = deref(uid), deref(ip), deref(ua)
		e.SessionID, e.ErrorMessage = deref(sid), deref(msg)
		e.EventType = audit.EventType(eventType)
		e.CreatedAt = e.CreatedAt.UTC()
		if details != nil {
			if err := json.Unmarshal([]byte(*details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
