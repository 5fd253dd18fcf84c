package fsstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockOptions bounds how long a caller waits for a file's advisory lock.
type LockOptions struct {
	Wait     time.Duration // per-attempt wait
	Attempts int
	Backoff  time.Duration // delay before the 2nd attempt; doubles after each failure
	Poll     time.Duration // how often TryLock is retried within one attempt
}

// DefaultLockOptions waits 2s per attempt, three attempts, backing off
// 100ms then 200ms between them.
var DefaultLockOptions = LockOptions{
	Wait:     2 * time.Second,
	Attempts: 3,
	Backoff:  100 * time.Millisecond,
	Poll:     10 * time.Millisecond,
}

// LockPath returns the lock file guarding path: a hidden file next to it
// named after a hash of the absolute path.
func LockPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(filepath.Dir(abs), "."+hex.EncodeToString(sum[:])[:8]+".lock"), nil
}

// backoffDelay returns initial * 2^(attempt-1).
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return initial << (attempt - 1)
}

// WithLock runs fn while holding the advisory lock for path. Acquisition is
// retried opts.Attempts times; when all attempts time out the returned error
// matches ErrLockTimeout.
func WithLock(ctx context.Context, path string, opts LockOptions, fn func() error) error {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultLockOptions.Poll
	}
	lp, err := LockPath(path)
	if err != nil {
		return storageErr("lock path", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(lp), 0o755); err != nil {
		return storageErr("mkdir", filepath.Dir(lp), err)
	}

	fl := flock.New(lp)
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
		locked, err := fl.TryLockContext(waitCtx, opts.Poll)
		cancel()
		if locked {
			defer fl.Unlock()
			return fn()
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return storageErr("lock", lp, err)
		}
		if ctx.Err() != nil {
			return storageErr("lock", lp, ctx.Err())
		}
		if attempt < opts.Attempts {
			select {
			case <-time.After(backoffDelay(opts.Backoff, attempt)):
			case <-ctx.Done():
				return storageErr("lock", lp, ctx.Err())
			}
		}
	}
	return storageErr("lock", path, ErrLockTimeout)
}

// AppendLocked appends data to path under the file's advisory lock, so
// cooperating processes never interleave partial writes.
func AppendLocked(ctx context.Context, path string, data []byte) error {
	return AppendLockedWith(ctx, path, data, DefaultLockOptions)
}

// AppendLockedWith is AppendLocked with explicit lock options.
func AppendLockedWith(ctx context.Context, path string, data []byte, opts LockOptions) error {
	return WithLock(ctx, path, opts, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return storageErr("open", path, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return storageErr("append", path, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return storageErr("sync", path, err)
		}
		if err := f.Close(); err != nil {
			return storageErr("close", path, err)
		}
		return nil
	})
}
