package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestWatcherReportsStatusWrites(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 16)
	w, err := NewWatcher(filepath.Join(dir, "stages"), func(stage string) { changed <- stage }, quiet)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	go w.Run(ctx)

	if _, err := store.Save(ctx, result("build", true, 1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changed, "build")

	// Existing directory, second write.
	if _, err := store.Save(ctx, result("build", false, 2)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changed, "build")
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("no change notification for %q", want)
		}
	}
}
