//go:build !windows

package proc

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Terminate asks the process group to exit with SIGTERM. A process that has
// already exited is not an error.
func (h *Handle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", h.name, err)
	}
	return nil
}

// Kill terminates the process group with SIGKILL. Idempotent once the process
// has exited.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", h.name, err)
	}
	return nil
}

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
