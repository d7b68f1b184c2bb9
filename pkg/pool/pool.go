// Package pool provides reusable I/O buffers for copy and hash loops.
//
// sync.Pool caches allocated but unused buffers between calls, relieving
// pressure on the garbage collector. Items may be dropped at any GC, which is
// fine for short-lived copy buffers.
package pool

import "sync"

// DefaultBufferSize is used when a non-positive size is requested.
const DefaultBufferSize = 256 * 1024

// BufferPool hands out byte slices of one fixed size.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Size returns the length of buffers handed out by Get.
func (bp *BufferPool) Size() int { return bp.size }

// Get returns a full-length buffer.
func (bp *BufferPool) Get() *[]byte {
	bufPtr := bp.pool.Get().(*[]byte)
	// Reset len to cap in case a caller resliced it before returning it.
	*bufPtr = (*bufPtr)[:cap(*bufPtr)]
	return bufPtr
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped.
func (bp *BufferPool) Put(bufPtr *[]byte) {
	if bufPtr == nil || cap(*bufPtr) != bp.size {
		return
	}
	bp.pool.Put(bufPtr)
}
