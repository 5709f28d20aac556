// Package sys wraps the OS primitives the datastore relies on:
// advisory file locks and atomic file replacement.
package sys

import (
	"errors"
	"fmt"
	"os"
)

// ErrWouldBlock is returned by a non-blocking acquisition when another
// process (or another descriptor in this process) holds the lock.
var ErrWouldBlock = errors.New("file lock is held elsewhere")

// FileLock is an acquired advisory exclusive lock on a lock file. The
// OS releases it automatically if the holding process crashes, so a
// dead holder never blocks others permanently.
type FileLock struct {
	path string
	f    *os.File
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with concurrent acquirers.
func (l *FileLock) Release() error {
	if l.f == nil {
		return nil
	}
	err := unlock(l.f)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", l.path, cerr)
	}
	return nil
}

// AcquireFileLock opens (creating if needed) the lock file and takes
// an exclusive advisory lock on it. With block=false it fails fast
// with ErrWouldBlock when the lock is contended; with block=true it
// waits indefinitely.
func AcquireFileLock(path string, block bool) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := lock(f, block); err != nil {
		f.Close()
		if errors.Is(err, ErrWouldBlock) {
			return nil, err
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &FileLock{path: path, f: f}, nil
}
