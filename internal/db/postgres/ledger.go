package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/db"
	"github.com/lucasnoah/espflow/internal/state"
)

// RecordRun inserts a stage run. A run id seen before is ignored.
func (s *Store) RecordRun(ctx context.Context, entry state.HistoryEntry, out state.StageOutput) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO espflow_stage_runs
			(run_id, stage, success, exit_code, duration_seconds, command, artifacts, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING`,
		entry.RunID, entry.Stage, entry.Success, entry.ExitCode, entry.Duration,
		out.Command, len(out.Artifacts), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("espflow/postgres: record stage run: %w", err)
	}
	return nil
}

// RecordChecks inserts the reports as one batch inside a transaction.
func (s *Store) RecordChecks(ctx context.Context, stage string, reports []checks.Report) error {
	if len(reports) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range reports {
			batch.Queue(`
				INSERT INTO espflow_check_runs (stage, checker, result, message, details)
				VALUES ($1, $2, $3, $4, $5)`,
				stage, r.CheckerName, string(r.Result), r.Message, r.Details,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("espflow/postgres: record checks: %w", err)
		}
		return nil
	})
}

// RecordEvent inserts a workflow event.
func (s *Store) RecordEvent(ctx context.Context, event, stage, detail string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO espflow_workflow_events (event, stage, detail) VALUES ($1, $2, $3)`,
		event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("espflow/postgres: record workflow event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty stage
// matches every stage; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, stage string, limit int) ([]db.StageRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, stage, success, exit_code, duration_seconds, command, artifacts, timestamp
		FROM espflow_stage_runs
		WHERE ($1::text = '' OR stage = $1)
		ORDER BY id DESC
		LIMIT $2`,
		stage, pgLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("espflow/postgres: list stage runs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.StageRun, error) {
		var r db.StageRun
		var id int64
		err := row.Scan(&id, &r.RunID, &r.Stage, &r.Success, &r.ExitCode,
			&r.DurationSeconds, &r.Command, &r.Artifacts, &r.Timestamp)
		r.ID = int(id)
		return r, err
	})
}

// LatestRun returns the newest run of a stage, or nil if it never ran.
func (s *Store) LatestRun(ctx context.Context, stage string) (*db.StageRun, error) {
	runs, err := s.ListRuns(ctx, stage, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListChecks returns checker reports, newest first.
func (s *Store) ListChecks(ctx context.Context, stage string, limit int) ([]db.CheckRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stage, checker, result, message, details, created_at
		FROM espflow_check_runs
		WHERE ($1::text = '' OR stage = $1)
		ORDER BY id DESC
		LIMIT $2`,
		stage, pgLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("espflow/postgres: list check runs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.CheckRun, error) {
		var c db.CheckRun
		var id int64
		var at time.Time
		err := row.Scan(&id, &c.Stage, &c.Checker, &c.Result, &c.Message, &c.Details, &at)
		c.ID = int(id)
		c.Timestamp = at.UTC().Format(time.RFC3339Nano)
		return c, err
	})
}

// ListEvents returns workflow events, newest first.
func (s *Store) ListEvents(ctx context.Context, stage string, limit int) ([]db.WorkflowEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event, stage, detail, created_at
		FROM espflow_workflow_events
		WHERE ($1::text = '' OR stage = $1)
		ORDER BY id DESC
		LIMIT $2`,
		stage, pgLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("espflow/postgres: list workflow events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.WorkflowEvent, error) {
		var e db.WorkflowEvent
		var id int64
		var at time.Time
		err := row.Scan(&id, &e.Event, &e.Stage, &e.Detail, &at)
		e.ID = int(id)
		e.Timestamp = at.UTC().Format(time.RFC3339Nano)
		return e, err
	})
}

// Stats aggregates runs per stage, ordered by stage name.
func (s *Store) Stats(ctx context.Context) ([]db.StageStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage, COUNT(*), COUNT(*) FILTER (WHERE NOT success), COALESCE(AVG(duration_seconds), 0)
		FROM espflow_stage_runs
		GROUP BY stage
		ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("espflow/postgres: stage stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.StageStats, error) {
		var st db.StageStats
		var runs, failures int64
		err := row.Scan(&st.Stage, &runs, &failures, &st.AvgDuration)
		st.Runs, st.Failures = int(runs), int(failures)
		return st, err
	})
}

// pgLimit maps "no limit" to NULL, which LIMIT treats as unbounded.
func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
