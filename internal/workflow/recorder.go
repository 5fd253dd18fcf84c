package workflow

import (
	"context"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/state"
)

// Event names passed to Recorder.RecordEvent.
const (
	EventStart    = "start"
	EventValidate = "validate"
	EventComplete = "complete"
	EventSkip     = "skip"
	EventReset    = "reset"
)

// Recorder mirrors engine activity into a queryable ledger. Recorder
// failures are logged and never fail a transition; the state directory
// stays authoritative.
type Recorder interface {
	RecordRun(ctx context.Context, entry state.HistoryEntry, out state.StageOutput) error
	RecordChecks(ctx context.Context, stage string, reports []checks.Report) error
	RecordEvent(ctx context.Context, event, stage, detail string) error
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(context.Context, state.HistoryEntry, state.StageOutput) error {
	return nil
}
func (nopRecorder) RecordChecks(context.Context, string, []checks.Report) error { return nil }
func (nopRecorder) RecordEvent(context.Context, string, string, string) error   { return nil }
