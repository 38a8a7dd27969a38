package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/asvalue/asvalue-auth/audit"
)

// AppendAuditEntry inserts e. The table rejects updates and deletes.
func (s *Store) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO auth_audit_log (
		   id, user_id, event_type, ip_address, user_agent, session_id,
		   details, success, error_message, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.UserID), string(e.EventType), nullString(e.IPAddress), nullString(e.UserAgent),
		nullString(e.SessionID), details, e.Success, nullString(e.ErrorMessage), toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest entries for userID first.
func (s *Store) ListAuditEntries(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, event_type, ip_address, user_agent, session_id,
		        details, success, error_message, created_at
		   FROM auth_audit_log
		  WHERE user_id = ?
		  ORDER BY created_at DESC, id DESC
		  LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var uid, ip, ua, sid, details, msg sql.NullString
		var eventType string
		var createdAt int64
		if err := rows.Scan(&e.ID, &uid, &eventType, &ip, &ua, &sid, &details, &e.Success, &msg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.UserID, e.IPAddress, e.UserAgent, e.SessionID, e.ErrorMessage = uid.String, ip.String, ua.String, sid.String, msg.String
		e.EventType = audit.EventType(eventType)
		e.CreatedAt = fromMillis(createdAt)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
