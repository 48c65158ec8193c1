package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScratchManagerCreateAndDestroy(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	m, err := NewScratchManager(root, 10)
	if err != nil {
		t.Fatalf("NewScratchManager() error = %v", err)
	}

	path, err := m.Create("job-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected scratch directory to exist: %v", err)
	}

	if err := os.WriteFile(filepath.Join(path, "payload.bin"), []byte("hello"), 0600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	usage, err := m.Usage("job-1")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage != 5 {
		t.Fatalf("Usage() = %d, want 5", usage)
	}

	if err := m.Destroy("job-1"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected scratch directory to be removed")
	}
}

func TestScratchManagerOverCap(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	m, err := NewScratchManager(root, 0) // 0 GiB cap: any write trips it
	if err != nil {
		t.Fatalf("NewScratchManager() error = %v", err)
	}

	path, _ := m.Create("job-2")
	_ = os.WriteFile(filepath.Join(path, "f"), []byte("x"), 0600)

	over, err := m.OverCap("job-2")
	if err != nil {
		t.Fatalf("OverCap() error = %v", err)
	}
	if !over {
		t.Fatal("expected OverCap() to report true with a zero-byte cap")
	}
}

func TestScratchManagerDestroyIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	m, _ := NewScratchManager(root, 10)
	if err := m.Destroy("never-created"); err != nil {
		t.Fatalf("Destroy() on nonexistent directory should be a no-op, got error = %v", err)
	}
}
