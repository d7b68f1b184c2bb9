package pathhash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-booksync/pkg/pool"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return p
}

func TestSum_KnownDigest(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "abc.txt", "abc")

	got, err := New(nil).Sum(p)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestSum_SmallBufferLargeFile(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 10_000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	p := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(p, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var read int64
	h := New(pool.NewBufferPool(64)).WithReadObserver(func(n int64) { read += n })
	if _, err := h.Sum(p); err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if read != int64(len(content)) {
		t.Errorf("expected observer to see %d bytes, got %d", len(content), read)
	}
}

func TestEqual(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "same bytes")
	b := writeFile(t, dir, "b", "same bytes")
	c := writeFile(t, dir, "c", "other byte")

	h := New(nil)
	if eq, err := Equal(h, a, b); err != nil || !eq {
		t.Errorf("expected a and b to be equal, got %v (err %v)", eq, err)
	}
	if eq, err := Equal(h, a, c); err != nil || eq {
		t.Errorf("expected a and c to differ, got %v (err %v)", eq, err)
	}
	if _, err := Equal(h, a, filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
