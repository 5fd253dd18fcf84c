// Package workflow drives stage transitions over a catalog and keeps the
// in-memory status consistent with the persisted stage outputs.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/state"
)

// Engine applies stage transitions. It holds no lock: callers sharing one
// Engine between goroutines must serialise access.
type Engine struct {
	catalog  *stage.Catalog
	registry *checks.Registry
	store    *state.Store
	recorder Recorder
	logger   *slog.Logger
	progress io.Writer
	now      func() time.Time

	status  map[string]stage.Status
	current string
	reports map[string][]checks.Report
	// seen is the identity of the persisted output each status was last
	// derived from; Refresh ignores files it has already applied.
	seen map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder mirrors runs, reports and events into r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProgress writes transition progress lines to w.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine and reconciles it with the state directory. Each
// stage's checker list is bound in the engine's own copy of registry, so
// the caller's registry is left unchanged.
func New(ctx context.Context, catalog *stage.Catalog, registry *checks.Registry, store *state.Store, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		registry: registry.Clone(),
		store:    store,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range catalog.Ordered() {
		for _, name := range s.Checkers {
			e.registry.Bind(s.Name, name)
		}
	}
	e.Reconcile(ctx)
	return e
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Catalog returns the engine's stage catalog.
func (e *Engine) Catalog() *stage.Catalog { return e.catalog }

// Registry returns the engine's checker registry.
func (e *Engine) Registry() *checks.Registry { return e.registry }

// Store returns the engine's state store.
func (e *Engine) Store() *state.Store { return e.store }

// Reconcile rebuilds all status from persisted outputs: success means
// completed, failure means failed, absent means pending. Nothing else
// survives, including in-progress and skipped marks.
func (e *Engine) Reconcile(ctx context.Context) {
	e.status = make(map[string]stage.Status, e.catalog.Len())
	e.reports = make(map[string][]checks.Report)
	e.seen = make(map[string]string)
	e.current = ""
	for _, name := range e.catalog.Names() {
		e.status[name] = stage.StatusPending
		if out, ok := e.store.Load(ctx, name); ok {
			e.applyOutput(name, out)
		}
	}
}

// Refresh re-reads one stage's persisted output, picking up writes made by
// another process. An output already applied is ignored, as is a missing
// file while the stage is in progress.
func (e *Engine) Refresh(ctx context.Context, name string) {
	if _, ok := e.status[name]; !ok {
		return
	}
	out, found := e.store.Load(ctx, name)
	if !found {
		if e.seen[name] != "" && e.status[name] != stage.StatusInProgress {
			delete(e.seen, name)
			delete(e.reports, name)
			e.status[name] = stage.StatusPending
		}
		return
	}
	if outputKey(out) == e.seen[name] {
		return
	}
	e.applyOutput(name, out)
	e.logger.Debug("refreshed stage from disk", "stage", name, "success", out.Success)
}

func (e *Engine) applyOutput(name string, out *state.StageOutput) {
	if out.Success {
		e.status[name] = stage.StatusCompleted
	} else {
		e.status[name] = stage.StatusFailed
	}
	e.seen[name] = outputKey(out)
}

func outputKey(out *state.StageOutput) string {
	return out.Timestamp + "|" + strconv.Itoa(out.ExitCode) + "|" + out.Command
}

func (e *Engine) completedSet() map[string]bool {
	done := make(map[string]bool)
	for name, st := range e.status {
		if st == stage.StatusCompleted {
			done[name] = true
		}
	}
	return done
}

// Start marks a ready stage in progress and makes it current.
func (e *Engine) Start(ctx context.Context, name string) Outcome {
	s, found := e.catalog.Get(name)
	if !found {
		return notFound(name)
	}
	if missing := s.Missing(e.completedSet()); len(missing) > 0 {
		return unsatisfied(name, missing)
	}
	if e.status[name] == stage.StatusCompleted {
		return alreadyCompleted(name)
	}

	e.status[name] = stage.StatusInProgress
	e.current = name
	e.logf("stage %s started", name)
	e.record(ctx, EventStart, name, "")
	return ok("stage %q started", name)
}

// RecordResult persists out as the stage's latest output and sets the
// stage completed or failed from out.Success. A storage failure leaves
// the in-memory state untouched.
func (e *Engine) RecordResult(ctx context.Context, name string, out state.StageOutput) (Outcome, error) {
	if _, found := e.catalog.Get(name); !found {
		return notFound(name), nil
	}
	out.Stage = name
	if out.Timestamp == "" {
		out.Timestamp = e.now().UTC().Format(time.RFC3339Nano)
	}

	entry, err := e.store.Save(ctx, out)
	if err != nil {
		return Outcome{}, fmt.Errorf("record result for %s: %w", name, err)
	}
	e.applyOutput(name, &out)
	delete(e.reports, name)
	if e.current == name {
		e.current = ""
	}

	verdict := "SUCCESS"
	level := state.LevelInfo
	if !out.Success {
		verdict = "FAILED"
		level = state.LevelError
	}
	if err := e.store.Log(ctx, level, fmt.Sprintf("Stage %s: %s", name, verdict), map[string]any{
		"stage":     name,
		"run_id":    entry.RunID,
		"exit_code": out.ExitCode,
		"duration":  out.DurationSeconds,
	}); err != nil {
		e.logger.Warn("write workflow log", "stage", name, "error", err)
	}
	if err := e.recorder.RecordRun(ctx, entry, out); err != nil {
		e.logger.Warn("ledger: record run", "stage", name, "error", err)
	}
	e.logf("stage %s: %s (exit %d)", name, verdict, out.ExitCode)
	return ok("stage %q recorded: %s", name, verdict), nil
}

// Validate runs the stage's checkers and applies the gate: any fail marks
// the stage failed, otherwise it is completed. An unknown stage yields no
// reports.
func (e *Engine) Validate(ctx context.Context, name string) (checks.GateResult, Outcome) {
	if _, found := e.catalog.Get(name); !found {
		return checks.GateResult{}, notFound(name)
	}

	reports := e.registry.RunStage(ctx, name, e.store.ProjectRoot())
	gate := checks.Gate(reports)
	e.reports[name] = reports
	if gate.Passed {
		e.status[name] = stage.StatusCompleted
	} else {
		e.status[name] = stage.StatusFailed
	}
	if e.current == name {
		e.current = ""
	}

	if err := e.recorder.RecordChecks(ctx, name, reports); err != nil {
		e.logger.Warn("ledger: record checks", "stage", name, "error", err)
	}
	e.record(ctx, EventValidate, name, gate.Summary())
	for _, f := range gate.Failures {
		e.logger.Warn("checker failed", "stage", name, "checker", f.CheckerName, "message", f.Message)
	}
	e.logf("stage %s validation: %s", name, gate.Summary())

	if !gate.Passed {
		return gate, Outcome{Message: fmt.Sprintf("stage %q failed validation: %s", name, gate.Summary())}
	}
	return gate, ok("stage %q validated: %s", name, gate.Summary())
}

// RecordValidation persists gate as the output of a stage that has no
// command, so the verdict survives a restart the way a command run does.
// The checker reports stay available through Reports.
func (e *Engine) RecordValidation(ctx context.Context, name string, gate checks.GateResult) (Outcome, error) {
	reports := e.reports[name]
	code := 0
	if !gate.Passed {
		code = 1
	}
	lines := make([]string, 0, len(gate.Reports))
	for _, r := range gate.Reports {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(r.Result)), r.CheckerName, r.Message))
	}
	out, err := e.RecordResult(ctx, name, state.StageOutput{
		Success:   gate.Passed,
		Command:   CommandValidate,
		Stdout:    strings.Join(lines, "\n"),
		ExitCode:  code,
		Artifacts: []string{},
		Metadata: map[string]any{
			"validated": true,
			"summary":   gate.Summary(),
			"checks":    len(gate.Reports),
		},
	})
	if err != nil || out.Err != nil {
		return out, err
	}
	if reports != nil {
		e.reports[name] = reports
	}
	return out, nil
}

// Complete force-marks a stage completed without running checkers.
func (e *Engine) Complete(ctx context.Context, name string) Outcome {
	if _, found := e.catalog.Get(name); !found {
		return notFound(name)
	}
	e.status[name] = stage.StatusCompleted
	if e.current == name {
		e.current = ""
	}
	e.record(ctx, EventComplete, name, "forced")
	e.logf("stage %s marked completed", name)
	return ok("stage %q completed", name)
}

// Skip marks a stage skipped. Skipped stages do not satisfy dependencies.
func (e *Engine) Skip(ctx context.Context, name string) Outcome {
	if _, found := e.catalog.Get(name); !found {
		return notFound(name)
	}
	if e.status[name] == stage.StatusCompleted {
		return alreadyCompleted(name)
	}
	e.status[name] = stage.StatusSkipped
	if e.current == name {
		e.current = ""
	}
	e.record(ctx, EventSkip, name, "")
	return ok("stage %q skipped", name)
}

// Reset deletes a stage's persisted output and returns it to pending.
func (e *Engine) Reset(ctx context.Context, name string) (Outcome, error) {
	if _, found := e.catalog.Get(name); !found {
		return notFound(name), nil
	}
	if err := e.store.Reset(name); err != nil {
		return Outcome{}, fmt.Errorf("reset %s: %w", name, err)
	}
	e.status[name] = stage.StatusPending
	delete(e.seen, name)
	delete(e.reports, name)
	if e.current == name {
		e.current = ""
	}
	e.record(ctx, EventReset, name, "")
	return ok("stage %q reset", name), nil
}

func (e *Engine) record(ctx context.Context, event, name, detail string) {
	if err := e.recorder.RecordEvent(ctx, event, name, detail); err != nil {
		e.logger.Warn("ledger: record event", "event", event, "stage", name, "error", err)
	}
}
