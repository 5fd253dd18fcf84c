package checks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GateResult is the verdict over one stage's reports.
type GateResult struct {
	Passed   bool     `json:"passed"`
	Reports  []Report `json:"reports"`
	Failures []Report `json:"failures,omitempty"`
	Warnings []Report `json:"warnings,omitempty"`
}

// Gate applies the completion policy: any fail blocks, warnings and skips
// do not. No reports passes.
func Gate(reports []Report) GateResult {
	g := GateResult{Passed: true, Reports: reports}
	for _, r := range reports {
		switch r.Result {
		case Fail:
			g.Passed = false
			g.Failures = append(g.Failures, r)
		case Warning:
			g.Warnings = append(g.Warnings, r)
		}
	}
	return g
}

// Summary is a one-line description of the gate outcome.
func (g GateResult) Summary() string {
	if len(g.Failures) > 0 {
		names := make([]string, len(g.Failures))
		for i, f := range g.Failures {
			names[i] = f.CheckerName
		}
		return fmt.Sprintf("%d of %d checks failed: %s", len(g.Failures), len(g.Reports), strings.Join(names, ", "))
	}
	if len(g.Warnings) > 0 {
		return fmt.Sprintf("passed with %d warning(s)", len(g.Warnings))
	}
	return fmt.Sprintf("%d checks passed", len(g.Reports))
}

// JSON returns the gate result as indented JSON.
func (g GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
