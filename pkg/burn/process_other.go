//go:build !linux

package burn

import "os/exec"

// bindToParent is a no-op where the platform has no parent-death signal.
func bindToParent(*exec.Cmd) {}
