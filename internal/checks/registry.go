package checks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RegistryName is the checker name on reports the registry itself produces.
const RegistryName = "registry"

// Registry maps checker names to checkers and stages to checker names.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
	stages   map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
		stages:   make(map[string][]string),
	}
}

// Clone returns an independent copy of r. Checkers are shared; the name
// order and stage bindings are not.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := NewRegistry()
	c.order = append(c.order, r.order...)
	for name, ch := range r.checkers {
		c.checkers[name] = ch
	}
	for st, names := range r.stages {
		c.stages[st] = append([]string(nil), names...)
	}
	return c
}

// Register adds c, replacing any checker of the same name, and binds it to
// c.Stage() when that is set. It returns r for chaining.
func (r *Registry) Register(c Checker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, ok := r.checkers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.checkers[name] = c
	if st := c.Stage(); st != "" {
		r.bindLocked(st, name)
	}
	return r
}

// Bind attaches the checker name to stage. The name does not have to be
// registered yet; running an unregistered name yields a fail report.
func (r *Registry) Bind(stage, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindLocked(stage, name)
}

func (r *Registry) bindLocked(stage, name string) {
	for _, n := range r.stages[stage] {
		if n == name {
			return
		}
	}
	r.stages[stage] = append(r.stages[stage], name)
}

// Get looks up a checker by name.
func (r *Registry) Get(name string) (Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[name]
	return c, ok
}

// Names lists registered checkers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StageNames lists the checker names bound to stage, in binding order.
func (r *Registry) StageNames(stage string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.stages[stage]))
	copy(out, r.stages[stage])
	return out
}

// ForStage returns the registered checkers bound to stage.
func (r *Registry) ForStage(stage string) []Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Checker
	for _, name := range r.stages[stage] {
		if c, ok := r.checkers[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Run executes a single checker by name. An unknown name produces a fail
// report from the registry rather than an error.
func (r *Registry) Run(ctx context.Context, name, projectRoot string) Report {
	c, ok := r.Get(name)
	if !ok {
		return Report{
			CheckerName: RegistryName,
			Result:      Fail,
			Message:     fmt.Sprintf("checker %q not found", name),
			Suggestions: []string{fmt.Sprintf("register %q or remove it from the stage definition", name)},
		}
	}
	return runChecker(ctx, c, projectRoot)
}

// RunStage runs every checker bound to stage concurrently and returns the
// reports in binding order. A stage with no checkers yields no reports.
func (r *Registry) RunStage(ctx context.Context, stage, projectRoot string) []Report {
	names := r.StageNames(stage)
	reports := make([]Report, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			reports[i] = r.Run(gctx, name, projectRoot)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// runChecker converts a checker panic into a fail report.
func runChecker(ctx context.Context, c Checker, projectRoot string) (rep Report) {
	defer func() {
		if p := recover(); p != nil {
			rep = failReport(c.Name(), "checker panicked", fmt.Sprint(p))
		}
	}()
	return c.Check(ctx, projectRoot)
}
