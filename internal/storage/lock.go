package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is an advisory lock on a sidecar file. Every process that rewrites
// the guarded document takes it, so read-modify-write cycles do not interleave.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock returns a lock backed by path. The file is created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.fl.Path() }

// Lock blocks until the lock is held.
func (l *FileLock) Lock() error {
	dir := filepath.Dir(l.fl.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// TryLock takes the lock if it is free and reports whether it did.
func (l *FileLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.fl.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return l.fl.TryLock()
}

func (l *FileLock) Unlock() error {
	return l.fl.Unlock()
}
