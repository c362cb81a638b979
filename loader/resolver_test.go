package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
)

func TestDirResolverFindsFirstMatchingDir(t *testing.T) {
	highPriority := t.TempDir()
	lowPriority := t.TempDir()

	if err := os.WriteFile(filepath.Join(highPriority, "app.service"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lowPriority, "app.service"), []byte("y"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewDirResolver([]string{highPriority, lowPriority})
	paths, err := r.Resolve("app.service")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(paths) != 2 || paths[0] != filepath.Join(highPriority, "app.service") {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestDirResolverReturnsLoadErrorWhenMissing(t *testing.T) {
	r := NewDirResolver([]string{t.TempDir()})
	_, err := r.Resolve("missing.service")

	var le *errs.Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *errs.Error, got %v", err)
	}
	if le.LoadState != types.LoadStateNotFound {
		t.Fatalf("expected LoadStateNotFound, got %v", le.LoadState)
	}
}
