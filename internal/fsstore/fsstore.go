// Package fsstore provides the crash-safe file primitives the workflow state
// is built on: rename-based atomic writes and flock-guarded appends.
package fsstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrLockTimeout is returned (wrapped in a StorageError) when the advisory
	// lock for a file could not be acquired within the retry budget.
	ErrLockTimeout = errors.New("fsstore: lock timeout")

	// ErrCorrupt marks a file that exists but does not hold valid JSON.
	ErrCorrupt = errors.New("fsstore: corrupt json")
)

// StorageError describes a failed file operation.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// renameFile is swapped out by tests to simulate a crash between the temp
// write and the rename.
var renameFile = os.Rename

// WriteAtomic writes data to a file atomically by writing to a temp file
// in the same directory, syncing it, then renaming it over path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return storageErr("create temp", dir, err)
	}
	tmpName := tmp.Name()

	// Clean up temp file on any error path.
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return storageErr("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return storageErr("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("close", tmpName, err)
	}

	if err := renameFile(tmpName, path); err != nil {
		return storageErr("rename", path, err)
	}
	tmpName = "" // prevent deferred removal
	return nil
}

// WriteJSON writes v as pretty-printed JSON to path atomically.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	return WriteAtomic(path, data)
}

// ReadJSON reads a JSON file at path into v. A missing file yields an error
// matching fs.ErrNotExist; unparsable content yields one matching ErrCorrupt.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return storageErr("read", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: unmarshal %s: %w", ErrCorrupt, path, err)
	}
	return nil
}
