// Package state persists stage outputs, history and logs under the
// workflow state directory.
package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/espflow/internal/fsstore"
)

// MaxHistory is the number of runs kept in history.json.
const MaxHistory = 100

// Store manages workflow state on disk:
//
//	workflow/state.json, current_stage.txt, history.json
//	stages/<name>/status.json, output.txt
//	logs/workflow.log, logs/structured/workflow.jsonl
type Store struct {
	baseDir     string
	projectRoot string
	lockOpts    fsstore.LockOptions
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// NewStore creates a Store rooted at baseDir for the project at projectRoot.
func NewStore(baseDir, projectRoot string) *Store {
	return &Store{
		baseDir:     baseDir,
		projectRoot: projectRoot,
		lockOpts:    fsstore.DefaultLockOptions,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SetLogger sets the logger used for corrupt-file warnings.
func (s *Store) SetLogger(l *slog.Logger) { s.logger = l }

// SetLockOptions overrides the advisory lock budget.
func (s *Store) SetLockOptions(opts fsstore.LockOptions) { s.lockOpts = opts }

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string { return s.baseDir }

// ProjectRoot returns the project the state belongs to.
func (s *Store) ProjectRoot() string { return s.projectRoot }

func (s *Store) workflowDir() string { return filepath.Join(s.baseDir, "workflow") }
func (s *Store) logsDir() string     { return filepath.Join(s.baseDir, "logs") }

// StageDir returns the directory holding a stage's status and transcript.
func (s *Store) StageDir(name string) string {
	return filepath.Join(s.baseDir, "stages", name)
}

func (s *Store) statusPath(name string) string {
	return filepath.Join(s.StageDir(name), "status.json")
}

func (s *Store) transcriptPath(name string) string {
	return filepath.Join(s.StageDir(name), "output.txt")
}

// StatusPath returns the status.json path for a stage.
func (s *Store) StatusPath(name string) string { return s.statusPath(name) }

// Save persists out as the stage's current output, appends it to the
// rolling history and updates the summary. The status file is written
// first; if that fails nothing else is touched. The whole update runs under
// the workflow directory's advisory lock.
func (s *Store) Save(ctx context.Context, out StageOutput) (HistoryEntry, error) {
	if out.Stage == "" {
		return HistoryEntry{}, errors.New("save stage output: stage name is required")
	}

	entry := HistoryEntry{
		RunID:     s.newID(),
		Stage:     out.Stage,
		Timestamp: out.Timestamp,
		Success:   out.Success,
		ExitCode:  out.ExitCode,
		Duration:  out.DurationSeconds,
	}

	historyPath := filepath.Join(s.workflowDir(), "history.json")
	err := fsstore.WithLock(ctx, historyPath, s.lockOpts, func() error {
		if err := fsstore.WriteJSON(s.statusPath(out.Stage), out); err != nil {
			return fmt.Errorf("write status: %w", err)
		}
		if err := fsstore.WriteAtomic(s.transcriptPath(out.Stage), []byte(formatTranscript(out))); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
		if err := fsstore.WriteAtomic(filepath.Join(s.workflowDir(), "current_stage.txt"), []byte(out.Stage)); err != nil {
			return fmt.Errorf("write current stage: %w", err)
		}

		history := s.readHistory(ctx)
		history = append(history, entry)
		if len(history) > MaxHistory {
			history = history[len(history)-MaxHistory:]
		}
		if err := fsstore.WriteJSON(historyPath, history); err != nil {
			return fmt.Errorf("write history: %w", err)
		}

		sum := s.readSummary(ctx)
		sum.LastStage = out.Stage
		sum.LastUpdate = out.Timestamp
		if out.Success {
			sum.StagesCompleted++
		}
		if err := fsstore.WriteJSON(filepath.Join(s.workflowDir(), "state.json"), sum); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		return nil
	})
	if err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

// Load reads a stage's current output. A missing or unreadable status file
// yields (nil, false). Corruption is logged as a warning and any other read
// failure as an error; neither is returned.
func (s *Store) Load(ctx context.Context, name string) (*StageOutput, bool) {
	var out StageOutput
	path := s.statusPath(name)
	if err := fsstore.ReadJSON(path, &out); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.reportUnreadable(ctx, path, err)
		}
		return nil, false
	}
	return &out, true
}

// History returns the rolling run history, oldest first.
func (s *Store) History(ctx context.Context) []HistoryEntry {
	return s.readHistory(ctx)
}

// Summary returns the persisted summary, or a fresh one if none exists.
func (s *Store) Summary(ctx context.Context) Summary {
	return s.readSummary(ctx)
}

// CurrentStage returns the last stage saved, or "".
func (s *Store) CurrentStage() string {
	data, err := os.ReadFile(filepath.Join(s.workflowDir(), "current_stage.txt"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Transcript returns a stage's output.txt.
func (s *Store) Transcript(name string) (string, error) {
	data, err := os.ReadFile(s.transcriptPath(name))
	if err != nil {
		return "", fmt.Errorf("read transcript for %s: %w", name, err)
	}
	return string(data), nil
}

// Reset removes a stage's status and transcript so the stage reconciles
// as pending. History is left alone.
func (s *Store) Reset(name string) error {
	for _, path := range []string{s.statusPath(name), s.transcriptPath(name)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &fsstore.StorageError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}

func (s *Store) readHistory(ctx context.Context) []HistoryEntry {
	var history []HistoryEntry
	path := filepath.Join(s.workflowDir(), "history.json")
	if err := fsstore.ReadJSON(path, &history); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.reportUnreadable(ctx, path, err)
		}
		return nil
	}
	return history
}

func (s *Store) readSummary(ctx context.Context) Summary {
	var sum Summary
	path := filepath.Join(s.workflowDir(), "state.json")
	if err := fsstore.ReadJSON(path, &sum); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.reportUnreadable(ctx, path, err)
		}
		return Summary{
			ProjectRoot: s.projectRoot,
			CreatedAt:   s.now().Format(time.RFC3339Nano),
		}
	}
	return sum
}

// reportUnreadable logs a state file that exists but could not be used.
// Invalid JSON is a warning; permission and other I/O failures are errors
// since the file may well be intact.
func (s *Store) reportUnreadable(ctx context.Context, path string, err error) {
	if errors.Is(err, fsstore.ErrCorrupt) {
		s.logger.WarnContext(ctx, "ignoring corrupt state file", "path", path, "error", err)
		_ = s.Log(ctx, LevelWarning, "ignoring corrupt state file "+path, map[string]any{"error": err.Error()})
		return
	}
	s.logger.ErrorContext(ctx, "cannot read state file", "path", path, "error", err)
	_ = s.Log(ctx, LevelError, "cannot read state file "+path, map[string]any{"error": err.Error()})
}

func formatTranscript(out StageOutput) string {
	rule := strings.Repeat("=", 60)
	lines := []string{
		"Stage: " + out.Stage,
		"Timestamp: " + out.Timestamp,
		"Command: " + out.Command,
		fmt.Sprintf("Exit Code: %d", out.ExitCode),
		fmt.Sprintf("Duration: %.2fs", out.DurationSeconds),
		fmt.Sprintf("Success: %t", out.Success),
		"",
		rule,
		"STDOUT:",
		rule,
		out.Stdout,
		"",
		rule,
		"STDERR:",
		rule,
		out.Stderr,
	}
	return strings.Join(lines, "\n")
}
