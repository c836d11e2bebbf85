package tempfile

import (
	"os"
	"testing"
)

func TestCreateWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(dir, "partition-*.tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected hello, got %q", buf)
	}

	path := f.Path()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed after Close")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestReopenIndependentOffset(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(dir, "run-*.tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = f.Sync()

	r, err := f.Reopen()
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 3)
	if _, err := r.ReadAt(buf, 3); err != nil {
		t.Fatalf("ReadAt via reopened handle: %v", err)
	}
	if string(buf) != "def" {
		t.Fatalf("expected def, got %q", buf)
	}
}
