package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected to acquire lock, but got error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("lock file was not created: %v", err)
	}
	lock.Release()
	lock.Release() // Second release is a no-op.

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected to re-acquire released lock, got: %v", err)
	}
	again.Release()
}

func TestContention(t *testing.T) {
	dir := t.TempDir()

	lock1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = Acquire(dir)
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected ErrLockActive, got %v", err)
	}
	if lockErr.Path != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path in error: %s", lockErr.Path)
	}
}

func TestAcquireWait(t *testing.T) {
	dir := t.TempDir()
	retryDelay = 5 * time.Millisecond

	lock1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	t.Run("Times out while held", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := AcquireWait(ctx, dir)
		var lockErr *ErrLockActive
		if !errors.As(err, &lockErr) {
			t.Fatalf("expected ErrLockActive after timeout, got %v", err)
		}
	})

	t.Run("Succeeds once released", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			lock1.Release()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lock2, err := AcquireWait(ctx, dir)
		if err != nil {
			t.Fatalf("expected to acquire after release, got %v", err)
		}
		lock2.Release()
	})
}
