// Package pathhash computes content digests for files whose size and
// modification time alone cannot decide whether they changed.
package pathhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/paulschiretz/pgl-booksync/pkg/pool"
)

// Hasher computes a content digest for a file on disk.
type Hasher interface {
	Sum(path string) (string, error)
}

// SHA256Hasher hashes files with SHA-256, streaming through pooled buffers.
type SHA256Hasher struct {
	buffers *pool.BufferPool
	// onRead, if set, receives the number of bytes hashed per file.
	onRead func(n int64)
}

// New returns a SHA256Hasher using buffers from bp. A nil pool gets a
// private default-sized one.
func New(bp *pool.BufferPool) *SHA256Hasher {
	if bp == nil {
		bp = pool.NewBufferPool(0)
	}
	return &SHA256Hasher{buffers: bp}
}

// WithReadObserver registers a callback for bytes hashed, used for metrics.
func (h *SHA256Hasher) WithReadObserver(fn func(n int64)) *SHA256Hasher {
	h.onRead = fn
	return h
}

// Sum returns the hex SHA-256 of the file at path.
func (h *SHA256Hasher) Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	bufPtr := h.buffers.Get()
	defer h.buffers.Put(bufPtr)

	d := sha256.New()
	n, err := io.CopyBuffer(d, f, *bufPtr)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if h.onRead != nil {
		h.onRead(n)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// Equal reports whether two files have identical content according to h.
func Equal(h Hasher, a, b string) (bool, error) {
	sa, err := h.Sum(a)
	if err != nil {
		return false, err
	}
	sb, err := h.Sum(b)
	if err != nil {
		return false, err
	}
	return sa == sb, nil
}

var _ Hasher = (*SHA256Hasher)(nil)
