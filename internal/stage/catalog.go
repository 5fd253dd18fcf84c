package stage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrEmptyName                 = errors.New("stage: name is required")
	ErrDuplicateStage            = errors.New("stage: duplicate stage")
	ErrCyclicOrMissingDependency = errors.New("stage: cyclic or missing dependency")
)

// Catalog is an immutable, validated set of stages. All accessors return
// copies.
type Catalog struct {
	stages []Stage // topological order
	byName map[string]int
}

// NewCatalog validates stages and computes their traversal order. Duplicate
// names, dependencies on unknown stages and cycles are rejected.
func NewCatalog(stages []Stage) (*Catalog, error) {
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stages[%d]: %w", i, ErrEmptyName)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w %q", ErrDuplicateStage, s.Name)
		}
		seen[s.Name] = true
	}

	ordered, err := Order(stages)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		stages: make([]Stage, len(ordered)),
		byName: make(map[string]int, len(ordered)),
	}
	for i, s := range ordered {
		c.stages[i] = s.clone()
		c.byName[s.Name] = i
	}
	return c, nil
}

// MustCatalog is NewCatalog for static definitions; it panics on error.
func MustCatalog(stages []Stage) *Catalog {
	c, err := NewCatalog(stages)
	if err != nil {
		panic(err)
	}
	return c
}

// Order returns stages in deterministic topological order: each round places
// every stage whose dependencies are already placed, sorted by name. If a
// round finds nothing ready the remaining stages form a cycle or depend on a
// stage that is not in the list.
func Order(stages []Stage) ([]Stage, error) {
	remaining := make(map[string]Stage, len(stages))
	for _, s := range stages {
		remaining[s.Name] = s
	}

	ordered := make([]Stage, 0, len(stages))
	placed := make(map[string]bool, len(stages))
	for len(remaining) > 0 {
		var ready []string
		for name, s := range remaining {
			if s.IsReady(placed) {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			blocked := make([]string, 0, len(remaining))
			for name := range remaining {
				blocked = append(blocked, name)
			}
			sort.Strings(blocked)
			return nil, fmt.Errorf("%w: unresolved stages %s", ErrCyclicOrMissingDependency, strings.Join(blocked, ", "))
		}
		sort.Strings(ready)
		for _, name := range ready {
			ordered = append(ordered, remaining[name])
			delete(remaining, name)
		}
		// Mark after the round so stages in the same round do not unlock each other.
		for _, name := range ready {
			placed[name] = true
		}
	}
	return ordered, nil
}

// Ordered returns the stages in traversal order.
func (c *Catalog) Ordered() []Stage {
	out := make([]Stage, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.clone()
	}
	return out
}

// Names returns stage names in traversal order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of stages.
func (c *Catalog) Len() int {
	return len(c.stages)
}

// Get looks up a stage by name.
func (c *Catalog) Get(name string) (Stage, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Stage{}, false
	}
	return c.stages[i].clone(), true
}

// IsReady reports whether the named stage's dependencies are all completed.
// Unknown stages are never ready.
func (c *Catalog) IsReady(name string, completed map[string]bool) bool {
	s, ok := c.Get(name)
	return ok && s.IsReady(completed)
}

// Next returns the first stage, in traversal order, that is pending and
// ready. status reports each stage's current status.
func (c *Catalog) Next(status func(name string) Status, completed map[string]bool) (Stage, bool) {
	for _, s := range c.stages {
		if status(s.Name) == StatusPending && s.IsReady(completed) {
			return s.clone(), true
		}
	}
	return Stage{}, false
}
