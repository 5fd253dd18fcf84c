// Package stage defines workflow stages and the immutable catalog that
// orders them by dependency.
package stage

import "time"

// Status is the lifecycle state of a stage within one engine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Stage is a named unit of work. Stages carry no status; the engine keeps
// that in its own table so a catalog can be shared between engines.
type Stage struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"desc"`
	Tasks       []string       `json:"tasks,omitempty" yaml:"task"`
	Checkers    []string       `json:"checkers,omitempty" yaml:"checkers"`
	DependsOn   []string       `json:"depends_on,omitempty" yaml:"depends_on"`
	Command     []string       `json:"command,omitempty" yaml:"command"`
	Timeout     time.Duration  `json:"timeout,omitempty" yaml:"-"`
	// Capture, when set, runs the command for a fixed window and stops it;
	// reaching the window ends the run normally instead of timing out.
	Capture     time.Duration  `json:"capture,omitempty" yaml:"-"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}

// IsReady reports whether every dependency of s is in completed.
func (s Stage) IsReady(completed map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Missing returns the dependencies of s not in completed, in declaration order.
func (s Stage) Missing(completed map[string]bool) []string {
	var missing []string
	for _, dep := range s.DependsOn {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (s Stage) clone() Stage {
	out := s
	out.Tasks = cloneStrings(s.Tasks)
	out.Checkers = cloneStrings(s.Checkers)
	out.DependsOn = cloneStrings(s.DependsOn)
	out.Command = cloneStrings(s.Command)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
