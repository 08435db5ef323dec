package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"botward/internal/permission"
)

// UpsertOverride writes the single override row for (scope, scopeID, key).
// ON CONFLICT keeps the "at most one override per key per scope instance"
// invariant under concurrent writers. Global rows store scope_id='' so the
// unique index actually bites.
func (d *DB) UpsertOverride(ctx context.Context, o permission.Override) error {
	if d == nil || d.conn == nil {
		return errors.New("db not initialized")
	}
	if o.Scope != permission.ScopeGlobal && o.Scope != permission.ScopeBot {
		return errors.New("unknown override scope: " + o.Scope)
	}
	if o.Scope == permission.ScopeBot && o.ScopeID == "" {
		return errors.New("bot scope requires scope id")
	}
	if o.Scope == permission.ScopeGlobal {
		o.ScopeID = ""
	}
	var scopeJSON any
	if o.Value.Scope != nil {
		encoded, err := json.Marshal(o.Value.Scope)
		if err != nil {
			return err
		}
		scopeJSON = encoded
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO permission_overrides(scope, scope_id, permission_key, enabled, approval_mode, resource_scope, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scope, scope_id, permission_key)
		DO UPDATE SET enabled=EXCLUDED.enabled, approval_mode=EXCLUDED.approval_mode,
			resource_scope=EXCLUDED.resource_scope, updated_at=EXCLUDED.updated_at
	`, o.Scope, o.ScopeID, string(o.Key), o.Value.Enabled, string(o.Value.Mode), scopeJSON, time.Now().UTC())
	return err
}

// DeleteOverride removes the override row, reverting resolution to the
// next-lower scope. Deleting a row that does not exist is not an error.
func (d *DB) DeleteOverride(ctx context.Context, scope, scopeID string, key permission.Key) error {
	if d == nil || d.conn == nil {
		return errors.New("db not initialized")
	}
	if scope == permission.ScopeGlobal {
		scopeID = ""
	}
	_, err := d.conn.ExecContext(ctx, `
		DELETE FROM permission_overrides WHERE scope=$1 AND scope_id=$2 AND permission_key=$3
	`, scope, scopeID, string(key))
	return err
}

// GetOverride returns the stored value for (scope, scopeID, key), or nil
// when no override exists at that scope.
func (d *DB) GetOverride(ctx context.Context, scope, scopeID string, key permission.Key) (*permission.Value, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	if scope == permission.ScopeGlobal {
		scopeID = ""
	}
	row := d.conn.QueryRowContext(ctx, `
		SELECT enabled, approval_mode, resource_scope
		FROM permission_overrides WHERE scope=$1 AND scope_id=$2 AND permission_key=$3
	`, scope, scopeID, string(key))
	var enabled bool
	var mode string
	var scopeJSON []byte
	if err := row.Scan(&enabled, &mode, &scopeJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	value := permission.Value{Enabled: enabled, Mode: permission.Mode(mode)}
	if len(scopeJSON) > 0 {
		var rs permission.ResourceScope
		if err := json.Unmarshal(scopeJSON, &rs); err != nil {
			return nil, err
		}
		value.Scope = &rs
	}
	return &value, nil
}

// ListOverrides returns every global override plus every bot-scope override
// for botID in a single query, so batch resolution reads one snapshot.
func (d *DB) ListOverrides(ctx context.Context, botID string) ([]permission.Override, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'scope', scope,
			'scope_id', scope_id,
			'permission_key', permission_key,
			'value', jsonb_build_object(
				'enabled', enabled,
				'approval_mode', approval_mode,
				'resource_scope', resource_scope
			)
		)
	), '[]'::jsonb)
	FROM permission_overrides
	WHERE scope='global' OR (scope='bot' AND scope_id=$1)`
	row := d.conn.QueryRowContext(ctx, query, botID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	var overrides []permission.Override
	if err := json.Unmarshal(out, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}
