package workflow

import (
	"context"
	"fmt"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/state"
)

// CommandValidate is the Command recorded for a stage that has no command
// and was completed or failed by its checkers alone.
const CommandValidate = "validate"

// StageRunner executes a stage's command.
type StageRunner interface {
	RunStage(ctx context.Context, s stage.Stage) (state.StageOutput, error)
}

// RunResult is the outcome of Run.
type RunResult struct {
	Outcome Outcome
	// Output is nil for stages without a command.
	Output *state.StageOutput
	Gate   checks.GateResult
	// Validated is false when the command failed and checkers were not run.
	Validated bool
}

// Run starts a stage, executes its command, records the result and, if
// the command succeeded, validates the stage. Stages without a command are
// validated directly and the verdict is persisted as their output. If the command cannot be launched at all the stage
// returns to pending and nothing is persisted.
func (e *Engine) Run(ctx context.Context, name string, runner StageRunner) (RunResult, error) {
	if out := e.Start(ctx, name); !out.OK {
		return RunResult{Outcome: out}, nil
	}
	s, _ := e.catalog.Get(name)

	if len(s.Command) > 0 {
		output, err := runner.RunStage(ctx, s)
		if err != nil {
			e.status[name] = stage.StatusPending
			if e.current == name {
				e.current = ""
			}
			return RunResult{}, fmt.Errorf("run stage %s: %w", name, err)
		}
		recorded, err := e.RecordResult(ctx, name, output)
		if err != nil {
			return RunResult{}, err
		}
		if !output.Success {
			return RunResult{Outcome: Outcome{Message: recorded.Message}, Output: &output}, nil
		}
		gate, outcome := e.Validate(ctx, name)
		return RunResult{Outcome: outcome, Output: &output, Gate: gate, Validated: true}, nil
	}

	gate, outcome := e.Validate(ctx, name)
	if _, err := e.RecordValidation(ctx, name, gate); err != nil {
		return RunResult{}, err
	}
	return RunResult{Outcome: outcome, Gate: gate, Validated: true}, nil
}
