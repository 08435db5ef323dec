package db

import (
	"context"
	"errors"
	"time"
)

// InsertAuditEntry appends one immutable audit row and returns its id.
// There are deliberately no update or delete methods for audit_entries.
func (d *DB) InsertAuditEntry(ctx context.Context, botID, eventType, permissionKey, actorKind string, details []byte) (string, error) {
	if d == nil || d.conn == nil {
		return "", errors.New("db not initialized")
	}
	if eventType == "" {
		return "", errors.New("event type required")
	}
	auditID := newID("audit")
	var detailsJSON any
	if len(details) > 0 {
		detailsJSON = details
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO audit_entries(audit_id, bot_id, event_type, permission_key, actor_kind, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, auditID, nullString(botID), eventType, nullString(permissionKey), actorKind, detailsJSON, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return auditID, nil
}

// ListAuditEntries returns entries newest-first, filtered by bot and window.
// Ordering follows the bigserial id so entries written in decision order are
// returned in decision order even within the same timestamp.
func (d *DB) ListAuditEntries(ctx context.Context, botID string, since time.Time, limit int) ([]byte, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	limit = clampLimit(limit)
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'audit_id', audit_id,
			'bot_id', bot_id,
			'event_type', event_type,
			'permission_key', permission_key,
			'actor_kind', actor_kind,
			'details', details,
			'created_at', created_at
		) ORDER BY id DESC
	), '[]'::jsonb)
	FROM (
		SELECT id, audit_id, bot_id, event_type, permission_key, actor_kind, details, created_at
		FROM audit_entries
		WHERE created_at >= $1 AND ($2 = '' OR bot_id = $2)
		ORDER BY id DESC
		LIMIT $3
	) AS page`
	row := d.conn.QueryRowContext(ctx, query, since, botID, limit)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}
