package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/state"
)

// testStore connects to ESPFLOW_TEST_POSTGRES_DSN and starts from empty
// tables. Tests skip when the variable is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ESPFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ESPFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []state.HistoryEntry{
		{RunID: "r1", Stage: "build", Timestamp: "2026-03-01T10:00:00Z", Success: false, ExitCode: 2, Duration: 3},
		{RunID: "r2", Stage: "build", Timestamp: "2026-03-01T10:01:00Z", Success: true, Duration: 5},
		{RunID: "r3", Stage: "flash", Timestamp: "2026-03-01T10:02:00Z", Success: true, Duration: 7},
	}
	for _, e := range entries {
		out := state.StageOutput{Stage: e.Stage, Command: "idf.py " + e.Stage}
		if err := s.RecordRun(ctx, e, out); err != nil {
			t.Fatalf("record %s: %v", e.RunID, err)
		}
	}
	if err := s.RecordRun(ctx, entries[0], state.StageOutput{}); err != nil {
		t.Fatalf("duplicate: %v", err)
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "r3" {
		t.Errorf("runs = %+v", all)
	}

	latest, err := s.LatestRun(ctx, "build")
	if err != nil || latest == nil || latest.RunID != "r2" {
		t.Errorf("LatestRun(build) = %+v, %v", latest, err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Runs != 2 || stats[0].Failures != 1 || stats[0].AvgDuration != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRecordChecksAndEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RecordChecks(ctx, "build", []checks.Report{
		{CheckerName: "build_artifacts", Result: checks.Pass},
		{CheckerName: "size_limit", Result: checks.Fail, Message: "too big"},
	})
	if err != nil {
		t.Fatalf("record checks: %v", err)
	}
	got, err := s.ListChecks(ctx, "build", 10)
	if err != nil {
		t.Fatalf("list checks: %v", err)
	}
	if len(got) != 2 || got[0].Checker != "size_limit" || got[0].Result != "fail" {
		t.Errorf("checks = %+v", got)
	}

	s.RecordEvent(ctx, "start", "build", "")
	s.RecordEvent(ctx, "reset", "init", "")
	events, err := s.ListEvents(ctx, "build", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Event != "start" {
		t.Errorf("events = %+v", events)
	}
}
