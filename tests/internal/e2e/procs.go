//go:build unix

package e2e

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// ProcessExists reports whether a process with pid is present, zombie or not.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

// WaitProcessGone polls until pid no longer exists or timeout elapses.
func WaitProcessGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if !ProcessExists(pid) {
			return true
		}

		time.Sleep(pollInterval / 2)
	}

	return !ProcessExists(pid)
}
