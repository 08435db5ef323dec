package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// CreateSchedule stores a bot run schedule. The payload is validated JSON
// from the web layer: {bot_id, cron, goal, enabled}.
func (d *DB) CreateSchedule(ctx context.Context, payload []byte) (string, error) {
	if d == nil || d.conn == nil {
		return "", errors.New("db not initialized")
	}
	var fields struct {
		BotID   string `json:"bot_id"`
		Cron    string `json:"cron"`
		Goal    string `json:"goal"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", err
	}
	if strings.TrimSpace(fields.BotID) == "" {
		return "", errors.New("bot_id required")
	}
	if strings.TrimSpace(fields.Cron) == "" {
		return "", errors.New("cron required")
	}
	scheduleID := newID("sched")
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO bot_schedules(schedule_id, bot_id, cron, goal, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, scheduleID, fields.BotID, fields.Cron, fields.Goal, fields.Enabled, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return scheduleID, nil
}

func (d *DB) ListSchedules(ctx context.Context, limit int) ([]byte, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	limit = clampLimit(limit)
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'schedule_id', schedule_id,
			'bot_id', bot_id,
			'cron', cron,
			'goal', goal,
			'enabled', enabled,
			'created_at', created_at,
			'last_run_at', last_run_at
		) ORDER BY created_at
	), '[]'::jsonb)
	FROM (
		SELECT * FROM bot_schedules ORDER BY created_at LIMIT $1
	) AS page`
	row := d.conn.QueryRowContext(ctx, query, limit)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if d == nil || d.conn == nil {
		return errors.New("db not initialized")
	}
	if scheduleID == "" {
		return errors.New("schedule id required")
	}
	_, err := d.conn.ExecContext(ctx, `DELETE FROM bot_schedules WHERE schedule_id=$1`, scheduleID)
	return err
}

func (d *DB) UpdateScheduleLastRun(ctx context.Context, scheduleID string, at time.Time) error {
	if d == nil || d.conn == nil {
		return errors.New("db not initialized")
	}
	if scheduleID == "" {
		return errors.New("schedule id required")
	}
	_, err := d.conn.ExecContext(ctx, `
		UPDATE bot_schedules SET last_run_at=$1 WHERE schedule_id=$2
	`, at.UTC(), scheduleID)
	return err
}
