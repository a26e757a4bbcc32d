//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr places the child in its own process group so stop signals
// reach shell wrappers and their descendants as a unit.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
