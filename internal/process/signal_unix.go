//go:build !windows

package process

import "syscall"

// terminateGroup sends SIGTERM to the child's process group so shell
// wrappers and their descendants all receive the stop signal.
func terminateGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// pidAlive probes with signal 0.
func pidAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
