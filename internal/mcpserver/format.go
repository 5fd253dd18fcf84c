package mcpserver

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/state"
	"github.com/lucasnoah/espflow/internal/workflow"
)

var rule = strings.Repeat("=", 40)

func formatStatus(p workflow.Progress, stages []workflow.StageView) string {
	lines := []string{
		"ESP-IDF Workflow Status",
		rule,
		fmt.Sprintf("Progress: %.1f%%", p.Percent),
		fmt.Sprintf("Completed: %d/%d", p.Completed, p.Total),
	}
	if p.Failed > 0 {
		lines = append(lines, fmt.Sprintf("Failed: %d", p.Failed))
	}
	lines = append(lines, "", "Stages:")
	for _, s := range stages {
		current := ""
		if s.Name == p.Current {
			current = " <-"
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s: %s%s", s.Status, s.Name, s.Description, current))
	}
	return strings.Join(lines, "\n")
}

func formatList(stages []workflow.StageView) string {
	lines := []string{"ESP-IDF Workflow Stages", rule}
	for i, s := range stages {
		deps := ""
		if len(s.DependsOn) > 0 {
			deps = fmt.Sprintf(" (depends on: %s)", strings.Join(s.DependsOn, ", "))
		}
		lines = append(lines, fmt.Sprintf("\n%d. %s%s", i+1, s.Name, deps))
		lines = append(lines, "   "+s.Description)
		if len(s.Tasks) > 0 {
			lines = append(lines, "   Tasks:")
			for _, t := range s.Tasks {
				lines = append(lines, "     - "+t)
			}
		}
		if len(s.Checkers) > 0 {
			lines = append(lines, "   Checkers: "+strings.Join(s.Checkers, ", "))
		}
		if len(s.Command) > 0 {
			lines = append(lines, "   Command: "+strings.Join(s.Command, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func formatNext(s stage.Stage) string {
	lines := []string{
		"Next Stage: " + s.Name,
		"Description: " + s.Description,
		"",
		"Tasks:",
	}
	for _, t := range s.Tasks {
		lines = append(lines, "  - "+t)
	}
	if len(s.DependsOn) > 0 {
		lines = append(lines, "\nDependencies satisfied: "+strings.Join(s.DependsOn, ", "))
	}
	lines = append(lines, fmt.Sprintf("\nTo run this stage call %s(stage=%q).", ToolRun, s.Name))
	return strings.Join(lines, "\n")
}

func formatBlocked(st workflow.State) string {
	lines := []string{"No stage is ready to run."}
	if len(st.Failed) > 0 {
		lines = append(lines, "Failed stages: "+strings.Join(st.Failed, ", "))
		lines = append(lines, fmt.Sprintf("Fix the failures and call %s or %s again.", ToolRun, ToolValidate))
	} else {
		lines = append(lines, "Remaining stages depend on skipped or in-progress stages.")
	}
	return strings.Join(lines, "\n")
}

var resultIcons = map[checks.Result]string{
	checks.Pass:    "✓",
	checks.Fail:    "✗",
	checks.Warning: "⚠",
	checks.Skip:    "→",
}

func formatReport(r checks.Report) string {
	icon, ok := resultIcons[r.Result]
	if !ok {
		icon = "?"
	}
	lines := []string{
		fmt.Sprintf("%s %s: %s", icon, r.CheckerName, strings.ToUpper(string(r.Result))),
		"  " + r.Message,
	}
	if r.Details != "" {
		lines = append(lines, "  Details: "+r.Details)
	}
	if len(r.Suggestions) > 0 {
		lines = append(lines, "  Suggestions:")
		for _, s := range r.Suggestions {
			lines = append(lines, "    - "+s)
		}
	}
	return strings.Join(lines, "\n")
}

func formatValidation(name string, gate checks.GateResult) string {
	lines := []string{fmt.Sprintf("Validation Results for Stage '%s'", name), rule}
	for _, r := range gate.Reports {
		lines = append(lines, "", formatReport(r))
	}
	verdict := "PASSED"
	if !gate.Passed {
		verdict = "FAILED"
	}
	lines = append(lines, "", fmt.Sprintf("Stage %s %s: %s", name, verdict, gate.Summary()))
	return strings.Join(lines, "\n")
}

func formatRun(name string, res workflow.RunResult) string {
	var lines []string
	if out := res.Output; out != nil {
		verdict := "SUCCESS"
		if !out.Success {
			verdict = "FAILED"
		}
		lines = append(lines,
			fmt.Sprintf("Stage %s: %s", name, verdict),
			"Command: "+out.Command,
			fmt.Sprintf("Exit Code: %d", out.ExitCode),
			fmt.Sprintf("Duration: %.2fs", out.DurationSeconds),
		)
		if len(out.Artifacts) > 0 {
			lines = append(lines, "Artifacts: "+strings.Join(out.Artifacts, ", "))
		}
		if !out.Success {
			lines = append(lines, "", "STDERR (tail):", tail(out.Stderr, 20),
				fmt.Sprintf("\nFull transcript: %s(stage=%q)", ToolLog, name))
		}
	}
	if res.Validated {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		if len(res.Gate.Reports) == 0 {
			lines = append(lines, fmt.Sprintf("No checkers for stage '%s'.", name))
		} else {
			lines = append(lines, formatValidation(name, res.Gate))
		}
	}
	lines = append(lines, "", res.Outcome.Message)
	return strings.Join(lines, "\n")
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func formatHistory(entries []state.HistoryEntry, limit int) string {
	if len(entries) == 0 {
		return "No stage executions recorded yet."
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	lines := []string{fmt.Sprintf("Recent Executions (%d of %d)", limit, len(entries)), rule}
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		e := entries[i]
		verdict := "ok"
		if !e.Success {
			verdict = fmt.Sprintf("FAILED (exit %d)", e.ExitCode)
		}
		lines = append(lines, fmt.Sprintf("  %s  %-8s %-18s %.1fs", e.Timestamp, e.Stage, verdict, e.Duration))
	}
	return strings.Join(lines, "\n")
}

func guide(stages []workflow.StageView) string {
	var b strings.Builder
	b.WriteString(`ESP-IDF Workflow Guide

The workflow moves an ESP-IDF project through dependent stages. Every stage
result is persisted under the project's .espflow directory, so progress
survives restarts and is shared with the espflow CLI.

Quick Start:

1. esp_workflow_status()              - overall progress
2. esp_workflow_next()                - the next stage that is ready
3. esp_workflow_run(stage="init")     - run the command, record and validate
4. esp_workflow_log(stage="build")    - transcript of the last run
5. esp_workflow_history(limit=10)     - recent executions

Manual control:

  esp_workflow_start(stage)     - mark in progress (dependencies must be completed)
  esp_workflow_validate(stage)  - run checkers; any failure marks the stage failed
  esp_workflow_complete(stage)  - force completion without checkers
  esp_workflow_skip(stage)      - skip; dependants stay blocked
  esp_check(name)               - run one checker

Workflow Stages:

`)
	for _, s := range stages {
		fmt.Fprintf(&b, "  %-10s - %s\n", s.Name, s.Description)
	}
	b.WriteString(`
Warnings never block a stage. A failing checker does: fix the reported
problem, then run or validate the stage again.
`)
	return b.String()
}
