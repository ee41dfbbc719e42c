// Package lockfile provides an advisory file lock so only one process
// manages a given orchestrator data directory at a time.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrAlreadyLocked indicates the lock is held by another process.
	ErrAlreadyLocked = errors.New("lock already held")
)

// Lock is a held single-instance lock. Release it when the owning stack
// shuts down; a crashed owner drops it automatically.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at path without blocking. On contention the error
// matches ErrAlreadyLocked and names the holder's pid when one was recorded.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrAlreadyLocked) {
			if pid := holderPID(path); pid != "" {
				return nil, fmt.Errorf("%w by pid %s", ErrAlreadyLocked, pid)
			}
		}
		return nil, err
	}

	// Best-effort: write pid for troubleshooting.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// holderPID reads the pid the current holder recorded in the lock file.
func holderPID(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Unlock first; close always.
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
