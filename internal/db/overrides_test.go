package db

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"botward/internal/permission"
)

func TestUpsertOverrideNoDB(t *testing.T) {
	var d *DB
	o := permission.Override{Scope: permission.ScopeGlobal, Key: permission.KeyWebFetch}
	if err := d.UpsertOverride(context.Background(), o); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpsertOverrideGlobal(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	o := permission.Override{
		Scope: permission.ScopeGlobal,
		Key:   permission.KeyWebFetch,
		Value: permission.Value{Enabled: true, Mode: permission.ModeAutoAllowed},
	}
	if err := d.UpsertOverride(context.Background(), o); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(conn.lastExecQuery, "ON CONFLICT (scope, scope_id, permission_key)") {
		t.Fatalf("query: %s", conn.lastExecQuery)
	}
	if conn.lastExecArgs[1] != "" {
		t.Fatalf("global scope_id should be empty, got %v", conn.lastExecArgs[1])
	}
}

func TestUpsertOverrideBotRequiresScopeID(t *testing.T) {
	d := &DB{conn: &fakeConn{}}
	o := permission.Override{Scope: permission.ScopeBot, Key: permission.KeyWebFetch}
	if err := d.UpsertOverride(context.Background(), o); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpsertOverrideUnknownScope(t *testing.T) {
	d := &DB{conn: &fakeConn{}}
	o := permission.Override{Scope: "team", Key: permission.KeyWebFetch}
	if err := d.UpsertOverride(context.Background(), o); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpsertOverrideWithResourceScope(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	o := permission.Override{
		Scope:   permission.ScopeBot,
		ScopeID: "bot1",
		Key:     permission.KeyAutonomyLevel,
		Value: permission.Value{
			Enabled: true,
			Mode:    permission.ModeAutoAllowed,
			Scope:   &permission.ResourceScope{Kind: permission.ScopeKindAutonomy, Level: permission.AutonomyL2},
		},
	}
	if err := d.UpsertOverride(context.Background(), o); err != nil {
		t.Fatalf("err: %v", err)
	}
	encoded, ok := conn.lastExecArgs[5].([]byte)
	if !ok || !strings.Contains(string(encoded), `"kind":"autonomy"`) {
		t.Fatalf("resource scope arg: %#v", conn.lastExecArgs[5])
	}
}

func TestDeleteOverride(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	if err := d.DeleteOverride(context.Background(), permission.ScopeBot, "bot1", permission.KeyFSWrite); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(conn.lastExecQuery, "DELETE FROM permission_overrides") {
		t.Fatalf("query: %s", conn.lastExecQuery)
	}
}

func TestDeleteOverrideExecError(t *testing.T) {
	d := &DB{conn: &fakeConn{execErr: errTest}}
	if err := d.DeleteOverride(context.Background(), permission.ScopeGlobal, "", permission.KeyFSWrite); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetOverrideMissing(t *testing.T) {
	d := &DB{conn: &fakeConn{row: fakeRow{err: sql.ErrNoRows}}}
	v, err := d.GetOverride(context.Background(), permission.ScopeGlobal, "", permission.KeyWebFetch)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil for missing override")
	}
}

func TestGetOverrideOK(t *testing.T) {
	row := fakeRow{values: []any{true, "approval_required", []byte(nil)}}
	d := &DB{conn: &fakeConn{row: row}}
	v, err := d.GetOverride(context.Background(), permission.ScopeBot, "bot1", permission.KeyFSWrite)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if v == nil || v.Mode != permission.ModeApprovalRequired || !v.Enabled {
		t.Fatalf("value: %+v", v)
	}
}

func TestGetOverrideWithScope(t *testing.T) {
	row := fakeRow{values: []any{true, "auto_allowed", []byte(`{"kind":"egress","egress":"full"}`)}}
	d := &DB{conn: &fakeConn{row: row}}
	v, err := d.GetOverride(context.Background(), permission.ScopeGlobal, "", permission.KeyLLMEgress)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if v.Scope == nil || v.Scope.Egress != permission.EgressFull {
		t.Fatalf("scope: %+v", v.Scope)
	}
}

func TestListOverrides(t *testing.T) {
	payload := `[{"scope":"global","scope_id":"","permission_key":"web_fetch","value":{"enabled":true,"approval_mode":"auto_allowed","resource_scope":null}}]`
	d := &DB{conn: &fakeConn{row: fakeRow{values: []any{[]byte(payload)}}}}
	rows, err := d.ListOverrides(context.Background(), "bot1")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != permission.KeyWebFetch || rows[0].Scope != permission.ScopeGlobal {
		t.Fatalf("rows: %+v", rows)
	}
}

func TestListOverridesRowError(t *testing.T) {
	d := &DB{conn: &fakeConn{row: fakeRow{err: errTest}}}
	if _, err := d.ListOverrides(context.Background(), "bot1"); err == nil {
		t.Fatalf("expected error")
	}
}
