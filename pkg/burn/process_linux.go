//go:build linux

package burn

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// bindToParent asks the kernel to SIGKILL the worker when the spawning thread dies,
// so workers do not outlive a crashed service.
func bindToParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = new(syscall.SysProcAttr)
	}

	cmd.SysProcAttr.Pdeathsig = unix.SIGKILL
}
