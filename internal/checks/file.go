package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/espflow/internal/config"
)

// FileChecker is a declarative checker configured from espflow.yaml. It
// requires a file (or a glob match) to exist and optionally to contain
// every marker string.
type FileChecker struct {
	CheckName string
	StageName string
	Path      string
	Glob      string
	Contains  []string
	// OnMissing is the result when the file or a marker is missing:
	// Fail (default) or Warning.
	OnMissing Result
}

// NewFileChecker builds a FileChecker from its config entry.
func NewFileChecker(name string, def config.FileCheck) FileChecker {
	onMissing := Fail
	if def.OnMissing == string(Warning) {
		onMissing = Warning
	}
	return FileChecker{
		CheckName: name,
		StageName: def.Stage,
		Path:      def.Path,
		Glob:      def.Glob,
		Contains:  def.Contains,
		OnMissing: onMissing,
	}
}

func (f FileChecker) Name() string  { return f.CheckName }
func (f FileChecker) Stage() string { return f.StageName }

func (f FileChecker) Check(_ context.Context, root string) Report {
	var target string
	if f.Path != "" {
		target = filepath.Join(root, f.Path)
		if _, err := os.Stat(target); err != nil {
			return f.miss(fmt.Sprintf("%s not found", f.Path), "Expected: "+target)
		}
	} else {
		matches, err := filepath.Glob(filepath.Join(root, f.Glob))
		if err != nil {
			return failReport(f.CheckName, "invalid glob", err.Error())
		}
		if len(matches) == 0 {
			return f.miss(fmt.Sprintf("no files match %s", f.Glob), "Searched in: "+root)
		}
		target = matches[0]
		if len(f.Contains) == 0 {
			rep := passReport(f.CheckName, fmt.Sprintf("%d file(s) match %s", len(matches), f.Glob), "")
			rep.Metadata = map[string]any{"count": len(matches)}
			return rep
		}
	}

	if len(f.Contains) > 0 {
		data, err := os.ReadFile(target)
		if err != nil {
			return failReport(f.CheckName, "failed to read "+filepath.Base(target), err.Error())
		}
		var missing []string
		for _, marker := range f.Contains {
			if !strings.Contains(string(data), marker) {
				missing = append(missing, marker)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return f.miss(fmt.Sprintf("%s is missing %s", filepath.Base(target), strings.Join(missing, ", ")), "File: "+target)
		}
	}
	return passReport(f.CheckName, filepath.Base(target)+" is present", "File: "+target)
}

func (f FileChecker) miss(message, details string) Report {
	return Report{CheckerName: f.CheckName, Result: f.OnMissing, Message: message, Details: details}
}

// RegisterFileChecks registers one FileChecker per config entry, in name
// order, and returns r.
func (r *Registry) RegisterFileChecks(defs map[string]config.FileCheck) *Registry {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.Register(NewFileChecker(name, defs[name]))
	}
	return r
}
