package staging

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"tonearm/internal/services"
)

func TestAcquireCreatesDistinctDirectories(t *testing.T) {
	scratch := NewScratch(t.TempDir(), 0)

	first, err := scratch.Acquire("job-1", 1)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := scratch.Acquire("job-1", 1)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.Path() == second.Path() {
		t.Fatal("expected distinct scratch directories")
	}
	if err := os.WriteFile(first.File("raw.webm"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(first.Path()); !os.IsNotExist(err) {
		t.Fatal("expected released directory to be removed")
	}
	if _, err := os.Stat(second.Path()); err != nil {
		t.Fatal("expected other attempt directory to survive")
	}
}

func TestAcquireEnforcesFreeSpace(t *testing.T) {
	scratch := NewScratch(t.TempDir(), math.MaxUint64)
	_, err := scratch.Acquire("job-1", 1)
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
	if !services.IsTransient(err) {
		t.Fatalf("expected transient classification, got %s", services.KindOf(err))
	}
}

func TestAcquireRequiresRoot(t *testing.T) {
	_, err := NewScratch("", 0).Acquire("job-1", 1)
	if services.KindOf(err) != services.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWorkspaceCommitAndRemove(t *testing.T) {
	base := t.TempDir()
	workspace := NewWorkspace(filepath.Join(base, "workspace"))
	src := filepath.Join(base, "raw.webm")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	dst, err := workspace.Commit("job-1", src, "raw.webm")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !workspace.Has(dst) {
		t.Fatalf("expected committed artifact at %s", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("expected source to be moved")
	}
	if workspace.Has("") || workspace.Has(filepath.Join(base, "missing")) {
		t.Fatal("expected missing paths to report false")
	}

	if err := workspace.Remove("job-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if workspace.Has(dst) {
		t.Fatal("expected workspace to be removed")
	}
	if err := workspace.Remove("job-1"); err != nil {
		t.Fatalf("Remove twice: %v", err)
	}
}

func TestWorkspaceCommitRejectsEmptyName(t *testing.T) {
	base := t.TempDir()
	workspace := NewWorkspace(filepath.Join(base, "workspace"))
	src := filepath.Join(base, "raw.webm")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	for _, name := range []string{"", "  ", "/"} {
		_, err := workspace.Commit("job-1", src, name)
		if err == nil {
			t.Fatalf("expected error for name %q", name)
		}
		if kind := services.KindOf(err); kind != services.KindConfiguration {
			t.Fatalf("expected configuration kind for name %q, got %s", name, kind)
		}
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("expected source untouched: %v", err)
	}
}

func TestFreeBytes(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space on temp dir")
	}
}
