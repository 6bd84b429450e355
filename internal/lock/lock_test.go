//go:build unix

package lock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSecondAcquireFailsFast(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, ".avocado", "lock")

	first, err := Acquire(path, src)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(path, src)
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if !strings.Contains(err.Error(), "another avocado command is running in "+src) {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, ".avocado", "lock")

	l, err := Acquire(path, src)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	again, err := Acquire(path, src)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}
