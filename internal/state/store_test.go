package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/espflow/internal/fsstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir(), "/work/blink")
	s.SetLogger(slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	return s
}

func output(stage string, success bool) StageOutput {
	code := 0
	if !success {
		code = 2
	}
	return StageOutput{
		Stage:           stage,
		Timestamp:       "2026-01-02T03:04:05.123456Z",
		Success:         success,
		Command:         "idf.py " + stage,
		Stdout:          "Project build complete.",
		Stderr:          "",
		ExitCode:        code,
		DurationSeconds: 12.5,
		Artifacts:       []string{"build/blink.bin"},
		Metadata:        map[string]any{"target": "esp32"},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := output("build", true)
	entry, err := s.Save(ctx, want)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if entry.RunID == "" {
		t.Error("RunID should be set")
	}

	got, ok := s.Load(ctx, "build")
	if !ok {
		t.Fatal("Load: not found")
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("Load = %+v, want %+v", *got, want)
	}

	if _, ok := s.Load(ctx, "flash"); ok {
		t.Error("Load(flash) should report absent")
	}
	if cur := s.CurrentStage(); cur != "build" {
		t.Errorf("CurrentStage = %q, want build", cur)
	}
}

func TestSaveOverwritesCurrentOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, output("build", false)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, output("build", true)); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Load(ctx, "build")
	if !ok || !got.Success {
		t.Errorf("expected latest successful output, got %+v", got)
	}
	if n := len(s.History(ctx)); n != 2 {
		t.Errorf("history has %d entries, want 2", n)
	}
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sum := s.Summary(ctx)
	if sum.ProjectRoot != "/work/blink" || sum.CreatedAt == "" || sum.StagesCompleted != 0 {
		t.Errorf("fresh summary = %+v", sum)
	}

	s.Save(ctx, output("init", true))
	s.Save(ctx, output("config", false))
	s.Save(ctx, output("config", true))

	sum = s.Summary(ctx)
	if sum.StagesCompleted != 2 {
		t.Errorf("StagesCompleted = %d, want 2", sum.StagesCompleted)
	}
	if sum.LastStage != "config" {
		t.Errorf("LastStage = %q, want config", sum.LastStage)
	}
}

func TestHistoryBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stages := []string{"init", "config", "build"}

	for i := 0; i < 150; i++ {
		out := output(stages[i%len(stages)], i%2 == 0)
		out.Timestamp = fmt.Sprintf("run-%03d", i)
		if _, err := s.Save(ctx, out); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	history := s.History(ctx)
	if len(history) != MaxHistory {
		t.Fatalf("history has %d entries, want %d", len(history), MaxHistory)
	}
	for i, h := range history {
		if want := fmt.Sprintf("run-%03d", i+50); h.Timestamp != want {
			t.Fatalf("history[%d].Timestamp = %q, want %q", i, h.Timestamp, want)
		}
	}
}

func TestLoadCorruptStatus(t *testing.T) {
	var logged strings.Builder
	s := NewStore(t.TempDir(), "/work/blink")
	s.SetLogger(slog.New(slog.NewTextHandler(&logged, nil)))
	ctx := context.Background()

	path := s.StatusPath("build")
	os.MkdirAll(filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte(`{"stage": "build", "succ`), 0o644); err != nil {
		t.Fatal(err)
	}

	if out, ok := s.Load(ctx, "build"); ok || out != nil {
		t.Errorf("Load of corrupt file = %+v, %v; want nil, false", out, ok)
	}
	if !strings.Contains(logged.String(), "level=WARN") || !strings.Contains(logged.String(), "ignoring corrupt state file") {
		t.Errorf("expected slog warning, got %q", logged.String())
	}
	data, err := os.ReadFile(filepath.Join(s.BaseDir(), "logs", "workflow.log"))
	if err != nil {
		t.Fatalf("read workflow.log: %v", err)
	}
	if !strings.Contains(string(data), "[WARNING]") {
		t.Errorf("workflow.log = %q, want a WARNING entry", data)
	}
}

func TestLoadReadFailureLoggedAsError(t *testing.T) {
	var logged strings.Builder
	s := NewStore(t.TempDir(), "/work/blink")
	s.SetLogger(slog.New(slog.NewTextHandler(&logged, nil)))
	ctx := context.Background()

	// A directory in place of status.json fails the read itself.
	if err := os.MkdirAll(s.StatusPath("build"), 0o755); err != nil {
		t.Fatal(err)
	}

	if out, ok := s.Load(ctx, "build"); ok || out != nil {
		t.Errorf("Load = %+v, %v; want nil, false", out, ok)
	}
	got := logged.String()
	if !strings.Contains(got, "level=ERROR") || !strings.Contains(got, "cannot read state file") {
		t.Errorf("expected slog error, got %q", got)
	}
	if strings.Contains(got, "corrupt") {
		t.Errorf("read failure reported as corruption: %q", got)
	}
	data, err := os.ReadFile(filepath.Join(s.BaseDir(), "logs", "workflow.log"))
	if err != nil {
		t.Fatalf("read workflow.log: %v", err)
	}
	if !strings.Contains(string(data), "[ERROR]") {
		t.Errorf("workflow.log = %q, want an ERROR entry", data)
	}
}

func TestSaveFailingStatusWriteLeavesState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, output("build", true)); err != nil {
		t.Fatal(err)
	}

	// A directory where status.json should be makes the rename fail.
	blocked := output("flash", true)
	os.MkdirAll(filepath.Join(s.StatusPath("flash"), "x"), 0o755)

	_, err := s.Save(ctx, blocked)
	var serr *fsstore.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StorageError", err)
	}
	if n := len(s.History(ctx)); n != 1 {
		t.Errorf("history has %d entries after failed save, want 1", n)
	}
	if cur := s.CurrentStage(); cur != "build" {
		t.Errorf("CurrentStage = %q, want build", cur)
	}
}

func TestTranscript(t *testing.T) {
	s := newTestStore(t)
	out := output("build", false)
	out.Stderr = "ninja: build stopped"
	if _, err := s.Save(context.Background(), out); err != nil {
		t.Fatal(err)
	}

	text, err := s.Transcript("build")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	for _, want := range []string{
		"Stage: build",
		"Command: idf.py build",
		"Exit Code: 2",
		"Duration: 12.50s",
		"Success: false",
		"STDOUT:\n" + strings.Repeat("=", 60) + "\nProject build complete.",
		"ninja: build stopped",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("transcript missing %q:\n%s", want, text)
		}
	}

	if _, err := s.Transcript("monitor"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing transcript err = %v, want ErrNotExist", err)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, output("build", true))

	if err := s.Reset("build"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok := s.Load(ctx, "build"); ok {
		t.Error("stage should be absent after Reset")
	}
	if err := s.Reset("never-ran"); err != nil {
		t.Errorf("Reset of unknown stage: %v", err)
	}
}

func TestConcurrentSaves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Save(ctx, output(fmt.Sprintf("stage-%d", i), true)); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := len(s.History(ctx)); n != 10 {
		t.Errorf("history has %d entries, want 10 (lost update)", n)
	}
	if got := s.Summary(ctx).StagesCompleted; got != 10 {
		t.Errorf("StagesCompleted = %d, want 10", got)
	}
}

func TestStageOutputRoundTrip(t *testing.T) {
	values := []StageOutput{
		output("build", true),
		{Stage: "init", Timestamp: "2026-01-01T00:00:00Z"},
		{Stage: "flash", ExitCode: -1, Artifacts: []string{}, Metadata: map[string]any{"timeout": true, "attempt": 2, "ratio": 0.5, "tags": []string{"ci"}}},
	}
	for _, want := range values {
		got, err := StageOutputFromMap(want.ToMap())
		if err != nil {
			t.Fatalf("StageOutputFromMap: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}

	m := output("build", true).ToMap()
	for _, key := range []string{"stage", "timestamp", "success", "command", "stdout", "stderr", "exit_code", "duration_seconds", "artifacts", "metadata"} {
		if _, ok := m[key]; !ok {
			t.Errorf("ToMap missing key %q", key)
		}
	}
}

func TestStageOutputFromJSONMap(t *testing.T) {
	data := []byte(`{"stage":"build","success":false,"exit_code":2,"duration_seconds":1.5,"artifacts":["build/app.bin"],"metadata":{"attempt":3}}`)
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	got, err := StageOutputFromMap(m)
	if err != nil {
		t.Fatalf("StageOutputFromMap: %v", err)
	}
	if got.Stage != "build" || got.ExitCode != 2 || got.DurationSeconds != 1.5 {
		t.Errorf("got = %+v", got)
	}
	if !reflect.DeepEqual(got.Artifacts, []string{"build/app.bin"}) {
		t.Errorf("Artifacts = %v", got.Artifacts)
	}

	bad := []map[string]any{
		{"stage": 7},
		{"exit_code": 1.5},
		{"success": "yes"},
		{"artifacts": []any{"a", 2}},
		{"metadata": "none"},
	}
	for _, m := range bad {
		if _, err := StageOutputFromMap(m); err == nil {
			t.Errorf("StageOutputFromMap(%v): expected error", m)
		}
	}
}

func TestLogWritesBothFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Log(ctx, LevelInfo, "stage build completed", map[string]any{"stage": "build", "level": "spoofed"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	text, _ := os.ReadFile(filepath.Join(s.BaseDir(), "logs", "workflow.log"))
	if !strings.HasSuffix(string(text), "] [INFO] stage build completed\n") || !strings.HasPrefix(string(text), "[") {
		t.Errorf("workflow.log = %q", text)
	}

	f, err := os.Open(filepath.Join(s.BaseDir(), "logs", "structured", "workflow.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("jsonl is empty")
	}
	var entry map[string]any
	if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{"level": "INFO", "message": "stage build completed", "logger": "workflow", "project_root": "/work/blink", "stage": "build"}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %v", k, entry[k], v)
		}
	}
	if entry["timestamp"] == nil {
		t.Error("entry has no timestamp")
	}
}

func TestLogHandler(t *testing.T) {
	s := newTestStore(t)
	logger := slog.New(NewLogHandler(s, slog.LevelInfo)).With("component", "engine")

	logger.Debug("dropped")
	logger.WithGroup("run").Warn("checker failed", "stage", "build", "error", errors.New("no bin"))

	data, err := os.ReadFile(filepath.Join(s.BaseDir(), "logs", "structured", "workflow.jsonl"))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d entries, want 1 (debug filtered)", len(lines))
	}
	var entry map[string]any
	json.Unmarshal([]byte(lines[0]), &entry)
	if entry["level"] != "WARNING" {
		t.Errorf("level = %v, want WARNING", entry["level"])
	}
	if entry["component"] != "engine" || entry["run.stage"] != "build" || entry["run.error"] != "no bin" {
		t.Errorf("unexpected fields: %v", entry)
	}
}

func TestSaveLockTimeout(t *testing.T) {
	s := newTestStore(t)
	s.SetLockOptions(fsstore.LockOptions{Wait: 20 * time.Millisecond, Attempts: 2, Backoff: time.Millisecond})
	ctx := context.Background()

	historyPath := filepath.Join(s.BaseDir(), "workflow", "history.json")
	err := fsstore.WithLock(ctx, historyPath, fsstore.DefaultLockOptions, func() error {
		_, err := s.Save(ctx, output("build", true))
		return err
	})
	if !errors.Is(err, fsstore.ErrLockTimeout) {
		t.Fatalf("Save under a held lock: err = %v, want ErrLockTimeout", err)
	}
	if _, found := s.Load(ctx, "build"); found {
		t.Error("status written without the lock")
	}
}
