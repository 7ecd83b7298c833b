package e2e

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// RepositoryRoot resolves the module root from this file's location.
func RepositoryRoot(tb testing.TB) string {
	tb.Helper()

	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		tb.Fatal("determine caller path")
	}

	root := filepath.Clean(filepath.Join(filepath.Dir(currentFile), "..", "..", ".."))

	_, err := os.Stat(filepath.Join(root, "go.mod"))
	if err != nil {
		tb.Fatalf("locate module root from %s: %v", root, err)
	}

	return root
}
