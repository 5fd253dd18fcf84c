package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStageNotFound           = errors.New("workflow: stage not found")
	ErrDependenciesUnsatisfied = errors.New("workflow: dependencies not satisfied")
	ErrAlreadyCompleted        = errors.New("workflow: stage already completed")
)

// Outcome is the result of a state transition. Refused transitions carry
// one of the package sentinels in Err; they are not Go errors because the
// caller is expected to report them, not abort.
type Outcome struct {
	OK      bool
	Message string
	Err     error
	// Missing lists unmet dependencies when Err is ErrDependenciesUnsatisfied.
	Missing []string
}

func ok(format string, args ...any) Outcome {
	return Outcome{OK: true, Message: fmt.Sprintf(format, args...)}
}

func notFound(name string) Outcome {
	return Outcome{
		Message: fmt.Sprintf("stage %q not found", name),
		Err:     fmt.Errorf("%w: %s", ErrStageNotFound, name),
	}
}

func unsatisfied(name string, missing []string) Outcome {
	return Outcome{
		Message: fmt.Sprintf("dependencies not satisfied for %s: %s", name, strings.Join(missing, ", ")),
		Err:     fmt.Errorf("%w: %s needs %s", ErrDependenciesUnsatisfied, name, strings.Join(missing, ", ")),
		Missing: missing,
	}
}

func alreadyCompleted(name string) Outcome {
	return Outcome{
		Message: fmt.Sprintf("stage %q already completed", name),
		Err:     fmt.Errorf("%w: %s", ErrAlreadyCompleted, name),
	}
}
