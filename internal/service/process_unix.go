//go:build !windows

package service

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// shellCommand runs command through the user's shell so pipes and
// operators behave as typed.
func shellCommand(command string) *exec.Cmd {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return exec.Command(shell, "-c", command)
}

// setSysProcAttr configures the command to run in its own process group (Unix).
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalProcess delivers sig to pid, or to its whole process group when
// group is set and the group can be resolved.
func signalProcess(pid int, group bool, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("no pid")
	}
	if group {
		if pgid, err := unix.Getpgid(pid); err == nil {
			return unix.Kill(-pgid, sig)
		}
	}
	return unix.Kill(pid, sig)
}

// pidAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
