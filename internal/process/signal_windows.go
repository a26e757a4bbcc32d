//go:build windows

package process

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// Windows has no graceful signal for console-less children; both the
// polite and the forceful path call TerminateProcess.
func terminateGroup(pid int) error { return terminatePID(pid) }
func killGroup(pid int) error      { return terminatePID(pid) }

func terminatePID(pid int) error {
	if pid <= 0 {
		return nil
	}
	handle, err := openProcess(processTerminate, pid)
	if err != nil {
		// Unable to open usually means the process is already gone.
		return nil
	}
	defer closeHandle(handle)
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := openProcess(processQueryInformation, pid)
	if err != nil {
		return false
	}
	defer closeHandle(handle)
	return true
}

func openProcess(access uint32, pid int) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(uint32(pid)))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
