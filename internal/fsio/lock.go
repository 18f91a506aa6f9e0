package fsio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock wraps an exclusive advisory file lock. The teacher's own "file lock"
// concept (internal/tools/collab/file_lock.go) is a pure domain record with
// no OS-level locking; here the lock is real, because multiple separate CLI
// processes (not goroutines inside one server) must serialize against the
// same on-disk state (§2, §4.A).
type Lock struct {
	fl *flock.Flock
}

// NewLock returns a Lock object for path. It does not acquire anything yet.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TeamLock returns the lock object for <team_dir>/.lock.
func TeamLock(teamDir string) *Lock {
	return NewLock(filepath.Join(teamDir, ".lock"))
}

// StateLock returns the lock object for <team_dir>/state/.lock.
func StateLock(teamDir string) *Lock {
	return NewLock(filepath.Join(teamDir, "state", ".lock"))
}

// With acquires the exclusive lock, runs fn, and releases the lock
// afterward — even if fn panics or returns an error. This is the only way
// the rest of the codebase should touch a Lock; it enforces "locks are held
// for the duration of a single mutation" (§4.A).
func (l *Lock) With(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return fmt.Errorf("mkdir lock dir: %w", err)
	}
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.fl.Path(), err)
	}
	defer l.fl.Unlock()
	return fn()
}
