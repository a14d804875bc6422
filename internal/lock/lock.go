// Package lock provides the process-wide single-writer lock shared by sync
// and cross-reference rebuilds.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// FileName is the lock file created inside the data directory.
const FileName = "writer.lock"

// ErrLocked is returned by TryAcquire when another process or goroutine
// holds the writer lock.
var ErrLocked = serrors.ErrWriterBusy

// WriterLock is an advisory cross-process lock on <dir>/writer.lock.
// It also excludes other holders inside the same process, which flock
// alone does not guarantee on every platform.
type WriterLock struct {
	path  string
	flock *flock.Flock

	mu     sync.Mutex
	locked bool
}

// New returns an unlocked WriterLock for the data directory dir.
func New(dir string) *WriterLock {
	path := filepath.Join(dir, FileName)
	return &WriterLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryAcquire takes the lock without blocking. It returns ErrLocked when the
// lock is held elsewhere.
func (l *WriterLock) TryAcquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return ErrLocked
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	if !acquired {
		return ErrLocked
	}
	l.locked = true
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *WriterLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release writer lock: %w", err)
	}
	return nil
}

// Held reports whether this WriterLock currently holds the lock.
func (l *WriterLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Path returns the lock file path.
func (l *WriterLock) Path() string {
	return l.path
}

// With runs fn while holding the lock.
func (l *WriterLock) With(fn func() error) error {
	if err := l.TryAcquire(); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}
