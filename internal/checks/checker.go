// Package checks validates workflow stages against the project tree.
package checks

import "context"

// Result is the outcome of a single checker.
type Result string

const (
	Pass    Result = "pass"
	Fail    Result = "fail"
	Warning Result = "warning"
	Skip    Result = "skip"
)

// Report holds the structured output of a checker run.
type Report struct {
	CheckerName string         `json:"checker_name"`
	Result      Result         `json:"result"`
	Message     string         `json:"message"`
	Details     string         `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r Report) IsPass() bool    { return r.Result == Pass }
func (r Report) IsFail() bool    { return r.Result == Fail }
func (r Report) IsWarning() bool { return r.Result == Warning }

// Checker inspects the project rooted at projectRoot. Checkers must be safe
// for concurrent use; RunStage runs a stage's checkers in parallel.
type Checker interface {
	Name() string
	// Stage is the stage the checker binds to on registration, or "".
	Stage() string
	Check(ctx context.Context, projectRoot string) Report
}

func passReport(name, message, details string) Report {
	return Report{CheckerName: name, Result: Pass, Message: message, Details: details}
}

func failReport(name, message, details string, suggestions ...string) Report {
	return Report{CheckerName: name, Result: Fail, Message: message, Details: details, Suggestions: suggestions}
}

func warningReport(name, message, details string, suggestions ...string) Report {
	return Report{CheckerName: name, Result: Warning, Message: message, Details: details, Suggestions: suggestions}
}
