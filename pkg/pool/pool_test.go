package pool

import "testing"

func TestBufferPool(t *testing.T) {
	bp := NewBufferPool(1024)

	ptr := bp.Get()
	if len(*ptr) != 1024 || cap(*ptr) != 1024 {
		t.Fatalf("got len %d cap %d, want 1024", len(*ptr), cap(*ptr))
	}

	*ptr = (*ptr)[:10]
	bp.Put(ptr)

	again := bp.Get()
	if len(*again) != 1024 {
		t.Errorf("expected buffer to be restored to full length, got %d", len(*again))
	}

	// Wrong size and nil are ignored.
	small := make([]byte, 10)
	bp.Put(&small)
	bp.Put(nil)
}

func TestBufferPool_DefaultSize(t *testing.T) {
	bp := NewBufferPool(0)
	if bp.Size() != DefaultBufferSize {
		t.Errorf("expected default size %d, got %d", DefaultBufferSize, bp.Size())
	}
}
