package pathsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/paulschiretz/pgl-booksync/pkg/pathindex"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// copyFile copies src to absTrgPath, retrying transient failures.
// It returns the number of bytes written.
func (e *Engine) copyFile(ctx context.Context, src pathindex.FileRecord, absTrgPath string) (int64, error) {
	attempt := 0
	op := func() (int64, error) {
		attempt++
		n, err := e.copyFileOnce(src, absTrgPath)
		if err != nil && errors.Is(err, fs.ErrNotExist) && isSourceErr(err) {
			// The source vanished mid-pass; retrying cannot help.
			return 0, backoff.Permanent(err)
		}
		return n, err
	}

	n, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.opts.RetryWait)),
		backoff.WithMaxTries(uint(e.opts.RetryCount+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			plog.Warn("Retrying file copy", "file", src.AbsPath, "attempt", fmt.Sprintf("%d/%d", attempt, e.opts.RetryCount), "after", wait, "error", err)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s to %s after %d attempts: %w", src.AbsPath, absTrgPath, attempt, err)
	}
	return n, nil
}

type sourceError struct{ err error }

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

func isSourceErr(err error) bool {
	var se *sourceError
	return errors.As(err, &se)
}

// copyFileOnce writes to a hidden temporary file next to the target and
// renames it into place, so a replica never holds a half-written book.
func (e *Engine) copyFileOnce(src pathindex.FileRecord, absTrgPath string) (written int64, err error) {
	in, err := os.Open(src.AbsPath)
	if err != nil {
		return 0, &sourceError{fmt.Errorf("failed to open source file %s: %w", src.AbsPath, err)}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, &sourceError{fmt.Errorf("failed to stat source file %s: %w", src.AbsPath, err)}
	}

	absTrgDir := filepath.Dir(absTrgPath)
	out, err := os.CreateTemp(absTrgDir, pathindex.TempFilePrefix+"*"+pathindex.TempFileSuffix)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", absTrgDir, err)
	}
	absTempPath := out.Name()
	// Cleared after a successful rename.
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	bufPtr := e.buffers.Get()
	defer e.buffers.Put(bufPtr)

	if written, err = io.CopyBuffer(out, in, *bufPtr); err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to copy content from %s to %s: %w", src.AbsPath, absTempPath, err)
	}

	// The sync user must always be able to overwrite its own copies.
	if err := out.Chmod(util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to set permissions on temporary file %s: %w", absTempPath, err)
	}

	// Close before Chtimes; flushing may touch the modification time.
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}

	modTime := info.ModTime()
	if err := os.Chtimes(absTempPath, modTime, modTime); err != nil {
		return 0, fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}

	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", absTrgPath, err)
	}
	absTempPath = ""
	return written, nil
}
