package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RunRef is the slice of an agent run the executor needs for entry checks.
type RunRef struct {
	RunID      string
	Status     string
	FinishedAt sql.NullTime
}

// CreateRun inserts a new run in running status and returns its id.
func (d *DB) CreateRun(ctx context.Context, botID, trigger, goal string, autonomyLevel int, startedAt time.Time) (string, error) {
	if d == nil || d.conn == nil {
		return "", errors.New("db not initialized")
	}
	if botID == "" {
		return "", errors.New("bot id required")
	}
	runID := newID("run")
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO agent_runs(run_id, bot_id, trigger, autonomy_level, goal, status, step_count, started_at)
		VALUES ($1, $2, $3, $4, $5, 'running', 0, $6)
	`, runID, botID, trigger, autonomyLevel, goal, startedAt.UTC())
	if err != nil {
		return "", err
	}
	return runID, nil
}

// CompleteRun sets the terminal status, summary, finished_at and duration.
// The executor is the only caller; finished_at is written exactly once.
func (d *DB) CompleteRun(ctx context.Context, runID, status, summary string, finishedAt time.Time, durationMs int64) error {
	if d == nil || d.conn == nil {
		return errors.New("db not initialized")
	}
	if runID == "" {
		return errors.New("run id required")
	}
	_, err := d.conn.ExecContext(ctx, `
		UPDATE agent_runs SET status=$1, summary=$2, finished_at=$3, duration_ms=$4
		WHERE run_id=$5 AND finished_at IS NULL
	`, status, nullString(summary), finishedAt.UTC(), durationMs, runID)
	return err
}

// LatestRun returns the most recent run for the bot, or nil when the bot
// has never run. Used by the executor's cooldown check.
func (d *DB) LatestRun(ctx context.Context, botID string) (*RunRef, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	row := d.conn.QueryRowContext(ctx, `
		SELECT run_id, status, finished_at FROM agent_runs
		WHERE bot_id=$1 ORDER BY started_at DESC LIMIT 1
	`, botID)
	var ref RunRef
	if err := row.Scan(&ref.RunID, &ref.Status, &ref.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

// CreateStep inserts a step row in running status and bumps the run's step
// count, inside one transaction so the pair can never diverge.
func (d *DB) CreateStep(ctx context.Context, runID string, stepIndex int, toolKey, permissionKey string, startedAt time.Time) (string, error) {
	if d == nil || d.conn == nil {
		return "", errors.New("db not initialized")
	}
	if runID == "" {
		return "", errors.New("run id required")
	}
	stepID := newID("step")
	err := d.withTx(ctx, func(conn dbConn) error {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO agent_steps(step_id, run_id, step_index, tool_key, permission_key, status, started_at)
			VALUES ($1, $2, $3, $4, $5, 'running', $6)
		`, stepID, runID, stepIndex, toolKey, nullString(permissionKey), startedAt.UTC()); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, `
			UPDATE agent_runs SET step_count=$1 WHERE run_id=$2
		`, stepIndex+1, runID)
		return err
	})
	if err != nil {
		return "", err
	}
	return stepID, nil
}

// FinishStep records a step's terminal status and summaries. Steps are
// immutable once terminal; the status guard keeps replays from rewriting.
func (d *DB) FinishStep(ctx context.Context, stepID, status, inputSummary, outputSummary, rationale string, durationMs int64) error {
	if d == nil || d.conn == nil {
		return errors.New("db not initialized")
	}
	if stepID == "" {
		return errors.New("step id required")
	}
	_, err := d.conn.ExecContext(ctx, `
		UPDATE agent_steps SET status=$1, input_summary=$2, output_summary=$3, rationale=$4, duration_ms=$5
		WHERE step_id=$6 AND status IN ('pending', 'running')
	`, status, nullString(inputSummary), nullString(outputSummary), nullString(rationale), durationMs, stepID)
	return err
}

// ListRuns returns runs for a bot (or all bots when botID is empty),
// newest first.
func (d *DB) ListRuns(ctx context.Context, botID string, limit int) ([]byte, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	limit = clampLimit(limit)
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'run_id', run_id,
			'bot_id', bot_id,
			'trigger', trigger,
			'autonomy_level', autonomy_level,
			'goal', goal,
			'status', status,
			'step_count', step_count,
			'summary', summary,
			'started_at', started_at,
			'finished_at', finished_at,
			'duration_ms', duration_ms
		) ORDER BY started_at DESC
	), '[]'::jsonb)
	FROM (
		SELECT * FROM agent_runs
		WHERE $1 = '' OR bot_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	) AS page`
	row := d.conn.QueryRowContext(ctx, query, botID, limit)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun returns one run as JSON, or nil when it does not exist.
func (d *DB) GetRun(ctx context.Context, runID string) ([]byte, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	query := `SELECT jsonb_build_object(
		'run_id', run_id,
		'bot_id', bot_id,
		'trigger', trigger,
		'autonomy_level', autonomy_level,
		'goal', goal,
		'status', status,
		'step_count', step_count,
		'summary', summary,
		'started_at', started_at,
		'finished_at', finished_at,
		'duration_ms', duration_ms
	) FROM agent_runs WHERE run_id=$1`
	row := d.conn.QueryRowContext(ctx, query, runID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// ListSteps returns the steps of a run in execution order.
func (d *DB) ListSteps(ctx context.Context, runID string) ([]byte, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db not initialized")
	}
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'step_id', step_id,
			'run_id', run_id,
			'step_index', step_index,
			'tool_key', tool_key,
			'permission_key', permission_key,
			'status', status,
			'input_summary', input_summary,
			'output_summary', output_summary,
			'rationale', rationale,
			'duration_ms', duration_ms,
			'started_at', started_at
		) ORDER BY step_index
	), '[]'::jsonb) FROM agent_steps WHERE run_id=$1`
	row := d.conn.QueryRowContext(ctx, query, runID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}
