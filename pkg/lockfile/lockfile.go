// Package lockfile guards a replica against concurrent sync passes from
// separate processes using an OS-level advisory lock.
package lockfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// LockFileName is the name of the lock file created in the replica root.
// The leading dot keeps it out of the replica index, the '~' marks it as
// temporary.
const LockFileName = ".~pgl-booksync.lock"

// ErrLockActive is returned when another process holds the lock.
type ErrLockActive struct {
	Path string
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("replica is locked by another sync process (%s)", e.Path)
}

// Lock is a held replica lock.
type Lock struct {
	fl   *flock.Flock
	once sync.Once
}

// retryDelay is how often Acquire polls while waiting. A var for tests.
var retryDelay = 100 * time.Millisecond

// Acquire takes the lock in dirPath without waiting.
// It returns *ErrLockActive if the lock is held elsewhere.
func Acquire(dirPath string) (*Lock, error) {
	path := filepath.Join(dirPath, LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, &ErrLockActive{Path: path}
	}
	return &Lock{fl: fl}, nil
}

// AcquireWait takes the lock in dirPath, polling until ctx is done.
func AcquireWait(ctx context.Context, dirPath string) (*Lock, error) {
	path := filepath.Join(dirPath, LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ErrLockActive{Path: path}
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, &ErrLockActive{Path: path}
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks. It is safe to call more than once. The lock file itself is
// left in place; removing it would let a waiting process lock an unlinked
// inode.
func (l *Lock) Release() {
	l.once.Do(func() {
		if err := l.fl.Unlock(); err != nil {
			plog.Warn("Failed to release replica lock", "path", l.fl.Path(), "error", err)
		}
	})
}
