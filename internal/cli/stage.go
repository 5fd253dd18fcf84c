package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/state"
	"github.com/lucasnoah/espflow/internal/workflow"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stages in dependency order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		w := cmd.OutOrStdout()
		for i, s := range a.engine.Stages() {
			deps := ""
			if len(s.DependsOn) > 0 {
				deps = fmt.Sprintf(" (depends on: %s)", strings.Join(s.DependsOn, ", "))
			}
			fmt.Fprintf(w, "%d. %s%s [%s]\n", i+1, s.Name, deps, s.Status)
			fmt.Fprintf(w, "   %s\n", s.Description)
			for _, t := range s.Tasks {
				fmt.Fprintf(w, "     - %s\n", t)
			}
			if len(s.Checkers) > 0 {
				fmt.Fprintf(w, "   Checkers: %s\n", strings.Join(s.Checkers, ", "))
			}
			if len(s.Command) > 0 {
				fmt.Fprintf(w, "   Command: %s (timeout %s)\n", strings.Join(s.Command, " "), s.Timeout)
			}
		}
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next stage that is ready to run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		w := cmd.OutOrStdout()
		next, ok := a.engine.Next()
		if !ok {
			st := a.engine.State()
			if len(st.Completed) == a.engine.Catalog().Len() {
				fmt.Fprintln(w, "All stages completed! Workflow finished.")
				return nil
			}
			fmt.Fprintln(w, "No stage is ready to run.")
			if len(st.Failed) > 0 {
				fmt.Fprintf(w, "Failed: %s\n", strings.Join(st.Failed, ", "))
			}
			return nil
		}
		fmt.Fprintf(w, "Next stage: %s\n%s\n", next.Name, next.Description)
		for _, t := range next.Tasks {
			fmt.Fprintf(w, "  - %s\n", t)
		}
		fmt.Fprintf(w, "\nRun it with: espflow run %s\n", next.Name)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start [stage]",
	Short: "Check a stage's dependencies and mark it in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		return report(cmd, a.engine.Start(cmd.Context(), args[0]))
	},
}

var runCmd = &cobra.Command{
	Use:   "run [stage]",
	Short: "Run a stage's command, record the output and validate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		name := args[0]
		res, err := a.engine.Run(cmd.Context(), name, a.executor)
		if err != nil {
			return err
		}
		if res.Outcome.Err != nil {
			return report(cmd, res.Outcome)
		}

		w := cmd.OutOrStdout()
		if out := res.Output; out != nil {
			fmt.Fprintf(w, "%s: exit %d in %.1fs\n", out.Command, out.ExitCode, out.DurationSeconds)
			for _, art := range out.Artifacts {
				fmt.Fprintf(w, "  artifact: %s\n", art)
			}
			if !out.Success {
				fmt.Fprintf(w, "See the transcript: espflow log %s\n", name)
			}
		}
		if res.Validated {
			printReports(cmd, res.Gate.Reports)
		}
		return report(cmd, res.Outcome)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [stage]",
	Short: "Run a stage's checkers; any failure marks the stage failed",
	Long: `Run a stage's checkers. Any failing checker marks the stage failed.

For a stage without a command the verdict is saved as the stage's output,
so later invocations see it completed or failed. For other stages the
verdict applies to this invocation only; the saved output is the last
command run.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		name := args[0]
		gate, out := a.engine.Validate(ctx, name)
		if out.Err != nil {
			return report(cmd, out)
		}
		if s, _ := a.engine.Catalog().Get(name); len(s.Command) == 0 {
			if _, err := a.engine.RecordValidation(ctx, name, gate); err != nil {
				return err
			}
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := gate.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), data)
		} else {
			printReports(cmd, gate.Reports)
		}
		return report(cmd, out)
	},
}

// completeCmd persists a forced successful output: each CLI invocation is
// a fresh process, so an in-memory mark would be lost on exit.
var completeCmd = &cobra.Command{
	Use:   "complete [stage]",
	Short: "Force-mark a stage completed without running checkers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		name := args[0]
		if out := a.engine.Complete(ctx, name); out.Err != nil {
			return report(cmd, out)
		}
		reason, _ := cmd.Flags().GetString("reason")
		out, err := a.engine.RecordResult(ctx, name, state.StageOutput{
			Success:   true,
			Command:   "espflow complete",
			Artifacts: []string{},
			Metadata:  map[string]any{"forced": true, "reason": reason},
		})
		if err != nil {
			return err
		}
		if out.Err != nil {
			return report(cmd, out)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stage %q marked completed\n", name)
		return nil
	},
}

var skipCmd = &cobra.Command{
	Use:   "skip [stage]",
	Short: "Skip a stage; stages depending on it stay blocked",
	Long: `Skip a stage. A skip is not written to the state directory, so it only
lasts for this invocation and the MCP server's session; it is recorded in the
run ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		return report(cmd, a.engine.Skip(cmd.Context(), args[0]))
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset [stage]",
	Short: "Delete a stage's recorded output and return it to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		out, err := a.engine.Reset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return report(cmd, out)
	},
}

// report prints a successful outcome, or turns a refused one into an error
// with the next step spelled out.
func report(cmd *cobra.Command, out workflow.Outcome) error {
	if out.OK {
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		return nil
	}
	if len(out.Missing) > 0 {
		return fmt.Errorf("%s (run %s first)", out.Message, strings.Join(out.Missing, ", "))
	}
	return fmt.Errorf("%s", out.Message)
}

func printReports(cmd *cobra.Command, reports []checks.Report) {
	w := cmd.OutOrStdout()
	if len(reports) == 0 {
		fmt.Fprintln(w, "No checkers for this stage.")
		return
	}
	for _, r := range reports {
		fmt.Fprintf(w, "[%s] %s: %s\n", strings.ToUpper(string(r.Result)), r.CheckerName, r.Message)
		if r.Details != "" {
			fmt.Fprintf(w, "       %s\n", r.Details)
		}
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "       - %s\n", s)
		}
	}
}

func init() {
	validateCmd.Flags().String("format", "text", "Output format: text or json")
	completeCmd.Flags().String("reason", "", "why the stage was completed by hand")
}
