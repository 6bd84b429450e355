// Package lock serializes mutating avocado commands on one project.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLockHeld is returned when another process owns the project lock.
var ErrLockHeld = errors.New("project lock held")

// HeldError names the project whose lock is taken.
type HeldError struct {
	SrcDir string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("another avocado command is running in %s", e.SrcDir)
}

func (e *HeldError) Unwrap() error { return ErrLockHeld }

// Lock is an acquired advisory lock. The zero value is not usable.
type Lock struct {
	f *os.File
}

// Acquire takes the lock file at path without blocking. srcDir is only used
// to describe the project in the error.
func Acquire(path, srcDir string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLockHeld) {
			return nil, &HeldError{SrcDir: srcDir}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. Calling it twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	err := unlock(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
