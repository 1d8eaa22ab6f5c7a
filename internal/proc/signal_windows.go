//go:build windows

package proc

import (
	"fmt"
	"os/exec"
)

// Terminate stops the top-level process. Windows offers no portable graceful
// signal for console children, so this is equivalent to Kill.
func (h *Handle) Terminate() error {
	return h.Kill()
}

// Kill terminates the top-level process. Idempotent once the process has
// exited.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process %s: %w", h.name, err)
	}
	return nil
}

func configureSysProcAttr(cmd *exec.Cmd) {}
