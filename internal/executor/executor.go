package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/config"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/state"
)

// ErrNoCommand is returned for stages that have nothing to execute.
var ErrNoCommand = errors.New("executor: stage has no command")

// Executor runs stage commands in the project root.
type Executor struct {
	runner   Runner
	cfg      *config.Config
	progress io.Writer
	now      func() time.Time
}

// New creates an Executor. A nil runner means ExecRunner.
func New(runner Runner, cfg *config.Config) *Executor {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Executor{runner: runner, cfg: cfg, progress: io.Discard, now: time.Now}
}

// SetProgress sets a writer for progress messages.
func (e *Executor) SetProgress(w io.Writer) {
	e.progress = w
}

func (e *Executor) logf(format string, args ...interface{}) {
	fmt.Fprintf(e.progress, format+"\n", args...)
}

// Vars returns the placeholder values taken from config.
func (e *Executor) Vars() map[string]string {
	return map[string]string{
		stage.VarIDFPy:  e.cfg.IDFPy,
		stage.VarTarget: e.cfg.Target,
		stage.VarPort:   e.cfg.Port,
		stage.VarBaud:   strconv.Itoa(e.cfg.Baud),
	}
}

// StageCommand expands the placeholders in s.Command. An argument whose
// placeholder expands to "" is an error, so flash without a port fails
// before anything runs.
func (e *Executor) StageCommand(s stage.Stage) ([]string, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCommand, s.Name)
	}
	vars := e.Vars()
	argv := make([]string, 0, len(s.Command))
	for _, arg := range s.Command {
		expanded := arg
		for k, v := range vars {
			if strings.Contains(expanded, k) {
				if v == "" {
					return nil, fmt.Errorf("stage %s: %s is not configured", s.Name, strings.Trim(k, "{}"))
				}
				expanded = strings.ReplaceAll(expanded, k, v)
			}
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

// RunStage executes the stage's command under its timeout and returns the
// result as a StageOutput. A timeout is reported as exit code -1, not as an
// error; err is non-nil only when the command could not be run at all.
//
// A stage with a capture window (a serial monitor) is stopped when the
// window ends and that counts as success, with the output collected so far.
func (e *Executor) RunStage(ctx context.Context, s stage.Stage) (state.StageOutput, error) {
	argv, err := e.StageCommand(s)
	if err != nil {
		return state.StageOutput{}, err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout(s.Name)
	}
	capture := s.Capture > 0
	if capture {
		timeout = s.Capture
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdline := strings.Join(argv, " ")
	if capture {
		e.logf("  → %s: %s (capturing for %s)", s.Name, cmdline, timeout)
	} else {
		e.logf("  → %s: %s (timeout %s)", s.Name, cmdline, timeout)
	}

	start := e.now()
	stdout, stderr, exitCode, err := e.runner.Run(runCtx, e.cfg.ProjectRoot, argv)
	duration := e.now().Sub(start)

	timedOut := false
	if err != nil {
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
			return state.StageOutput{}, fmt.Errorf("run stage %s: %w", s.Name, err)
		}
		timedOut = true
		if capture {
			exitCode = 0
		} else {
			exitCode = -1
			if stderr != "" && !strings.HasSuffix(stderr, "\n") {
				stderr += "\n"
			}
			stderr += fmt.Sprintf("timeout after %s", timeout)
		}
	}

	out := state.StageOutput{
		Stage:           s.Name,
		Timestamp:       start.UTC().Format(time.RFC3339Nano),
		Success:         exitCode == 0,
		Command:         cmdline,
		Stdout:          stdout,
		Stderr:          stderr,
		ExitCode:        exitCode,
		DurationSeconds: duration.Seconds(),
		Artifacts:       []string{},
		Metadata: map[string]any{
			"timeout_seconds": timeout.Seconds(),
			"target":          e.cfg.Target,
		},
	}
	if timedOut {
		out.Metadata["timed_out"] = true
	}
	if capture {
		out.Metadata["capture_seconds"] = timeout.Seconds()
	}
	if out.Success && s.Name == "build" {
		out.Artifacts = e.collectArtifacts(ctx)
	}
	e.logf("  → %s finished: exit %d in %.1fs", s.Name, exitCode, out.DurationSeconds)
	return out, nil
}

// collectArtifacts lists firmware binaries under build/, relative to the
// project root.
func (e *Executor) collectArtifacts(ctx context.Context) []string {
	bins, err := checks.FindBinaries(ctx, filepath.Join(e.cfg.ProjectRoot, "build"))
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(bins))
	for _, b := range bins {
		if rel, err := filepath.Rel(e.cfg.ProjectRoot, b); err == nil {
			b = rel
		}
		out = append(out, b)
	}
	return out
}
