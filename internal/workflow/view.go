package workflow

import (
	"context"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/state"
)

// StageView is a catalog stage paired with its current status.
type StageView struct {
	stage.Stage
	Status stage.Status `json:"status"`
}

// State is a snapshot of the in-memory workflow state. Completed and
// Failed are in catalog order and never overlap.
type State struct {
	CurrentStage string                     `json:"current_stage,omitempty"`
	Completed    []string                   `json:"completed_stages"`
	Failed       []string                   `json:"failed_stages"`
	Reports      map[string][]checks.Report `json:"stage_reports,omitempty"`
}

// Progress summarises how far the workflow has got.
type Progress struct {
	Total     int                     `json:"total_stages"`
	Completed int                     `json:"completed"`
	Failed    int                     `json:"failed"`
	Current   string                  `json:"current,omitempty"`
	Percent   float64                 `json:"progress_percent"`
	Stages    map[string]stage.Status `json:"stages"`
}

// Next returns the first pending stage whose dependencies are completed.
func (e *Engine) Next() (stage.Stage, bool) {
	return e.catalog.Next(e.statusOf, e.completedSet())
}

func (e *Engine) statusOf(name string) stage.Status {
	return e.status[name]
}

// Status returns a stage's status.
func (e *Engine) Status(name string) (stage.Status, bool) {
	st, ok := e.status[name]
	return st, ok
}

// Current returns the stage in progress, or "".
func (e *Engine) Current() string { return e.current }

// Stages lists all stages in traversal order with their status.
func (e *Engine) Stages() []StageView {
	ordered := e.catalog.Ordered()
	out := make([]StageView, len(ordered))
	for i, s := range ordered {
		out[i] = StageView{Stage: s, Status: e.status[s.Name]}
	}
	return out
}

// State returns a copy of the workflow state.
func (e *Engine) State() State {
	st := State{
		CurrentStage: e.current,
		Completed:    []string{},
		Failed:       []string{},
		Reports:      make(map[string][]checks.Report, len(e.reports)),
	}
	for _, name := range e.catalog.Names() {
		switch e.status[name] {
		case stage.StatusCompleted:
			st.Completed = append(st.Completed, name)
		case stage.StatusFailed:
			st.Failed = append(st.Failed, name)
		}
	}
	for name, reps := range e.reports {
		st.Reports[name] = append([]checks.Report(nil), reps...)
	}
	return st
}

// Reports returns the last checker reports for a stage.
func (e *Engine) Reports(name string) []checks.Report {
	return append([]checks.Report(nil), e.reports[name]...)
}

// Progress returns counts and per-stage status.
func (e *Engine) Progress() Progress {
	st := e.State()
	p := Progress{
		Total:     e.catalog.Len(),
		Completed: len(st.Completed),
		Failed:    len(st.Failed),
		Current:   e.current,
		Stages:    make(map[string]stage.Status, len(e.status)),
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	for name, s := range e.status {
		p.Stages[name] = s
	}
	return p
}

// Output returns a stage's persisted output.
func (e *Engine) Output(ctx context.Context, name string) (*state.StageOutput, bool) {
	return e.store.Load(ctx, name)
}

// Transcript returns a stage's persisted output.txt.
func (e *Engine) Transcript(name string) (string, error) {
	if _, found := e.catalog.Get(name); !found {
		return "", notFound(name).Err
	}
	return e.store.Transcript(name)
}

// IsComplete reports whether the stage's persisted output succeeded.
func (e *Engine) IsComplete(ctx context.Context, name string) bool {
	out, found := e.store.Load(ctx, name)
	return found && out.Success
}

// FailedOnDisk lists stages whose persisted output failed, in catalog order.
func (e *Engine) FailedOnDisk(ctx context.Context) []string {
	var failed []string
	for _, name := range e.catalog.Names() {
		if out, found := e.store.Load(ctx, name); found && !out.Success {
			failed = append(failed, name)
		}
	}
	return failed
}
