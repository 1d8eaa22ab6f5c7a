//go:build !windows

package proc

import (
	"os"
	"syscall"
)

func exitStatusFromState(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Signal: int(ws.Signal()), Signaled: true}
	}
	return ExitStatus{Code: state.ExitCode()}
}
