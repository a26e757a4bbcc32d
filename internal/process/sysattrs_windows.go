//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// setSysProcAttr starts the child in a new process group.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
