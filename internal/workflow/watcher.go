package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports stage names whose status.json changed under a state
// directory's stages/ tree, so a long-running process can Refresh after
// another process records a result.
type Watcher struct {
	w        *fsnotify.Watcher
	dir      string
	onChange func(stage string)
	logger   *slog.Logger
}

// NewWatcher watches stagesDir and each existing stage directory in it.
func NewWatcher(stagesDir string, onChange func(stage string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(stagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", stagesDir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{w: fw, dir: stagesDir, onChange: onChange, logger: logger}
	if err := fw.Add(stagesDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", stagesDir, err)
	}

	entries, err := os.ReadDir(stagesDir)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("read %s: %w", stagesDir, err)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			w.addStageDir(filepath.Join(stagesDir, ent.Name()))
		}
	}
	return w, nil
}

func (w *Watcher) addStageDir(dir string) {
	if err := w.w.Add(dir); err != nil {
		w.logger.Warn("watch stage dir", "dir", dir, "error", err)
	}
}

// Run delivers change notifications until ctx is cancelled or the watcher
// is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("state watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	parent := filepath.Dir(ev.Name)

	// A new stage directory: watch it and check for a status file that
	// landed before the watch was added.
	if parent == w.dir {
		if ev.Op&fsnotify.Create == 0 {
			return
		}
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addStageDir(ev.Name)
			if _, err := os.Stat(filepath.Join(ev.Name, "status.json")); err == nil {
				w.onChange(filepath.Base(ev.Name))
			}
		}
		return
	}

	if filepath.Dir(parent) != w.dir || filepath.Base(ev.Name) != "status.json" {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.onChange(filepath.Base(parent))
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
