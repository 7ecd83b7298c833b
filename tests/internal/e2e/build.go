package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const buildTimeout = 2 * time.Minute

// BuildChaosLabBinary compiles cmd/chaoslab with tags and returns the binary path. The same
// binary serves HTTP and, with the worker flag, runs as a burn worker.
func BuildChaosLabBinary(tb testing.TB, repoRoot string, tags ...string) string {
	tb.Helper()

	if repoRoot == "" {
		tb.Fatal("repository root must be provided")
	}

	binaryPath := filepath.Join(tb.TempDir(), "chaoslab")

	args := []string{"build", "-o", binaryPath}
	if len(tags) > 0 {
		args = append(args, "-tags", strings.Join(tags, ","))
	}

	args = append(args, "./cmd/chaoslab")

	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = repoRoot
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf("build chaoslab binary: %v\n%s", err, output)
	}

	return binaryPath
}
