//go:build windows

package service

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// shellCommand runs command through cmd.exe.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

// setSysProcAttr is a no-op on Windows (no process groups via Setpgid).
func setSysProcAttr(cmd *exec.Cmd) {}

// signalProcess kills pid on Windows. There is no SIGINT or SIGTERM, so every
// stage of the escalation ends the process outright.
func signalProcess(pid int, group bool, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("no pid")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

const stillActive = 259

// pidAlive reports whether pid is a running process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}
