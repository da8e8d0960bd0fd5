// Package storage is the file layer shared by every curated document.
// Writes are atomic (temp file + rename) so a reader never sees a torn file,
// and Snapshot lets a caller restore a file to its exact previous bytes.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FS is the minimal file API the stores depend on.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Remove(name string) error
}

// OS implements FS on the local file system.
type OS struct{}

func (OS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// WriteFile writes data to a temp file in the target directory and renames it
// over name.
func (OS) WriteFile(name string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, name); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (OS) Remove(name string) error { return os.Remove(name) }

// ReadOptional reads name, returning (nil, false, nil) when it does not exist.
func ReadOptional(fsys FS, name string) ([]byte, bool, error) {
	data, err := fsys.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Snapshot is the pre-write content of one file.
type Snapshot struct {
	Path    string
	Data    []byte
	Existed bool
}

// Capture records the current content of path.
func Capture(fsys FS, path string) (Snapshot, error) {
	data, existed, err := ReadOptional(fsys, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return Snapshot{Path: path, Data: data, Existed: existed}, nil
}

// Restore puts the file back the way Capture found it: originals are
// rewritten, files that did not exist are removed.
func (s Snapshot) Restore(fsys FS) error {
	if s.Existed {
		return fsys.WriteFile(s.Path, s.Data, 0o644)
	}
	if err := fsys.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FaultFS wraps an FS and fails selected writes. It is used to exercise the
// rollback paths of multi-file writers.
type FaultFS struct {
	FS

	mu     sync.Mutex
	writes int
	FailOn func(name string, n int) error
}

// WriteFile counts the write (1-based) and consults FailOn before delegating.
func (f *FaultFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	f.writes++
	n := f.writes
	f.mu.Unlock()
	if f.FailOn != nil {
		if err := f.FailOn(name, n); err != nil {
			return err
		}
	}
	return f.FS.WriteFile(name, data, perm)
}

// Writes returns the number of WriteFile calls seen so far.
func (f *FaultFS) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
