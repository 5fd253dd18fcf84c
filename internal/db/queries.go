package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/state"
	"github.com/lucasnoah/espflow/internal/workflow"
)

var _ workflow.Recorder = (*DB)(nil)

// StageRun represents a row in the stage_runs table.
type StageRun struct {
	ID              int     `json:"id"`
	RunID           string  `json:"run_id"`
	Stage           string  `json:"stage"`
	Success         bool    `json:"success"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	Command         string  `json:"command"`
	Artifacts       int     `json:"artifacts"`
	Timestamp       string  `json:"timestamp"`
}

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID        int    `json:"id"`
	Stage     string `json:"stage"`
	Checker   string `json:"checker"`
	Result    string `json:"result"`
	Message   string `json:"message"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
}

// WorkflowEvent represents a row in the workflow_events table.
type WorkflowEvent struct {
	ID        int    `json:"id"`
	Event     string `json:"event"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

// RecordRun inserts a stage run. A run id seen before is ignored.
func (d *DB) RecordRun(ctx context.Context, entry state.HistoryEntry, out state.StageOutput) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO stage_runs
		 (run_id, stage, success, exit_code, duration_seconds, command, artifacts, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Stage, entry.Success, entry.ExitCode, entry.Duration,
		out.Command, len(out.Artifacts), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record stage run: %w", err)
	}
	return nil
}

// RecordChecks inserts one row per report in a single transaction.
func (d *DB) RecordChecks(ctx context.Context, stage string, reports []checks.Report) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range reports {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO check_runs (stage, checker, result, message, details) VALUES (?, ?, ?, ?, ?)`,
			stage, r.CheckerName, string(r.Result), r.Message, r.Details,
		); err != nil {
			return fmt.Errorf("record check %s: %w", r.CheckerName, err)
		}
	}
	return tx.Commit()
}

// RecordEvent inserts a workflow event.
func (d *DB) RecordEvent(ctx context.Context, event, stage, detail string) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO workflow_events (event, stage, detail) VALUES (?, ?, ?)`,
		event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("record workflow event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty stage
// matches every stage; limit <= 0 means no limit.
func (d *DB) ListRuns(ctx context.Context, stage string, limit int) ([]StageRun, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, run_id, stage, success, exit_code, duration_seconds, COALESCE(command, ''), artifacts, timestamp
		 FROM stage_runs WHERE (? = '' OR stage = ?) ORDER BY id DESC LIMIT ?`,
		stage, stage, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &r.Success, &r.ExitCode,
			&r.DurationSeconds, &r.Command, &r.Artifacts, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the newest run of a stage, or nil if it never ran.
func (d *DB) LatestRun(ctx context.Context, stage string) (*StageRun, error) {
	runs, err := d.ListRuns(ctx, stage, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListChecks returns checker reports, newest first.
func (d *DB) ListChecks(ctx context.Context, stage string, limit int) ([]CheckRun, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, stage, checker, result, COALESCE(message, ''), COALESCE(details, ''), timestamp
		 FROM check_runs WHERE (? = '' OR stage = ?) ORDER BY id DESC LIMIT ?`,
		stage, stage, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list check runs: %w", err)
	}
	defer rows.Close()

	var out []CheckRun
	for rows.Next() {
		var c CheckRun
		if err := rows.Scan(&c.ID, &c.Stage, &c.Checker, &c.Result, &c.Message, &c.Details, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEvents returns workflow events, newest first.
func (d *DB) ListEvents(ctx context.Context, stage string, limit int) ([]WorkflowEvent, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, event, COALESCE(stage, ''), COALESCE(detail, ''), timestamp
		 FROM workflow_events WHERE (? = '' OR stage = ?) ORDER BY id DESC LIMIT ?`,
		stage, stage, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list workflow events: %w", err)
	}
	defer rows.Close()

	var out []WorkflowEvent
	for rows.Next() {
		var e WorkflowEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.Stage, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StageStats summarises the runs of one stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Runs        int     `json:"runs"`
	Failures    int     `json:"failures"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// Stats aggregates stage_runs per stage, ordered by stage name.
func (d *DB) Stats(ctx context.Context) ([]StageStats, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT stage, COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END), AVG(duration_seconds)
		 FROM stage_runs GROUP BY stage ORDER BY stage`,
	)
	if err != nil {
		return nil, fmt.Errorf("stage stats: %w", err)
	}
	defer rows.Close()

	var out []StageStats
	for rows.Next() {
		var s StageStats
		var avg sql.NullFloat64
		if err := rows.Scan(&s.Stage, &s.Runs, &s.Failures, &avg); err != nil {
			return nil, fmt.Errorf("scan stage stats: %w", err)
		}
		s.AvgDuration = avg.Float64
		out = append(out, s)
	}
	return out, rows.Err()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
