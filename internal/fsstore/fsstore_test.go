package fsstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "status.json")

	if err := WriteAtomic(path, []byte("first")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if err := WriteAtomic(path, []byte("second")); err != nil {
		t.Fatalf("WriteAtomic overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, got %d entries", len(entries))
	}
}

func TestWriteAtomic_CrashBeforeRenameKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")

	if err := WriteJSON(path, map[string]int{"v": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	// Simulate the process dying mid-write: the temp file is truncated and
	// the rename never happens.
	orig := renameFile
	renameFile = func(oldpath, newpath string) error {
		if err := os.Truncate(oldpath, 3); err != nil {
			return err
		}
		return errors.New("killed")
	}
	defer func() { renameFile = orig }()

	err := WriteJSON(path, map[string]int{"v": 2})
	if err == nil {
		t.Fatal("expected error from interrupted write")
	}
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %T", err)
	}

	var got map[string]int
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON after interrupted write: %v", err)
	}
	if got["v"] != 1 {
		t.Errorf("v = %d, want previous value 1", got["v"])
	}
}

func TestWriteAtomic_OrphanedTempIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	if err := WriteJSON(path, map[string]string{"stage": "build"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	// A partially written temp file left behind by a killed writer.
	if err := os.WriteFile(filepath.Join(dir, ".status.json.123.tmp"), []byte(`{"sta`), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	var got map[string]string
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got["stage"] != "build" {
		t.Errorf("stage = %q, want build", got["stage"])
	}
}

func TestReadJSON_Errors(t *testing.T) {
	dir := t.TempDir()

	var v map[string]any
	err := ReadJSON(filepath.Join(dir, "missing.json"), &v)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file: err = %v, want fs.ErrNotExist", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = ReadJSON(bad, &v)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("corrupt file: err = %v, want ErrCorrupt", err)
	}
}

func TestLockPath_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a, err := LockPath(filepath.Join(dir, "workflow.log"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := LockPath(filepath.Join(dir, ".", "workflow.log"))
	c, _ := LockPath(filepath.Join(dir, "other.log"))

	if a != b {
		t.Errorf("same file gave different lock paths: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different files share lock path %q", a)
	}
	if filepath.Dir(a) != dir {
		t.Errorf("lock dir = %q, want %q", filepath.Dir(a), dir)
	}
	if !strings.HasSuffix(a, ".lock") {
		t.Errorf("lock path %q should end in .lock", a)
	}
}

func TestAppendLocked_ConcurrentLinesNotInterleaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "workflow.log")

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			line := strings.Repeat(string(rune('a'+w)), 200) + "\n"
			for i := 0; i < perWriter; i++ {
				if err := AppendLocked(context.Background(), path, []byte(line)); err != nil {
					t.Errorf("AppendLocked: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	for i, l := range lines {
		if len(l) != 200 || strings.Count(l, l[:1]) != 200 {
			t.Fatalf("line %d is interleaved: %q", i, l[:20])
		}
	}
}

func TestAppendLocked_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.log")
	lp, err := LockPath(path)
	if err != nil {
		t.Fatal(err)
	}

	holder := flock.New(lp)
	if err := holder.Lock(); err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer holder.Unlock()

	opts := LockOptions{Wait: 20 * time.Millisecond, Attempts: 3, Backoff: 5 * time.Millisecond, Poll: 5 * time.Millisecond}
	start := time.Now()
	err = AppendLockedWith(context.Background(), path, []byte("x\n"), opts)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	// three waits plus two backoffs (5ms, 10ms)
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("gave up after %s, expected all attempts to be used", elapsed)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not be written when the lock is never acquired")
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffDelay(100*time.Millisecond, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
