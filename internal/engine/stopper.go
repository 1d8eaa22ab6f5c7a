package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/proc"
	"github.com/SamirTalwar/sandcastles/internal/timing"
)

// killConfirmSlack bounds how long we wait for the operating system to
// confirm death after a kill. A process that survives a kill is beyond this
// package's power to fix.
const killConfirmSlack = 5 * time.Second

type stopOutcome struct {
	status proc.ExitStatus
	killed bool
}

// stopProcess drives graceful-then-forceful termination: a polite terminate,
// a bounded wait for exit, then a kill if the process is still alive. The
// context bounds the whole operation but teardown is normally driven under a
// background-derived context so a caller hanging up cannot orphan a process.
func stopProcess(ctx context.Context, h Handle, grace time.Duration) (stopOutcome, error) {
	if status, exited := h.ExitStatus(); exited {
		return stopOutcome{status: status}, nil
	}

	graceErr := timing.ErrDeadline
	if err := h.Terminate(); err == nil {
		graceErr = timing.Wait(ctx, grace, h.Done())
	}
	switch {
	case graceErr == nil:
		status, _ := h.ExitStatus()
		return stopOutcome{status: status}, nil
	case errors.Is(graceErr, timing.ErrDeadline):
		// fall through to the kill
	default:
		return stopOutcome{}, graceErr
	}

	if err := h.Kill(); err != nil {
		return stopOutcome{killed: true}, fmt.Errorf("killing process: %w", err)
	}
	if err := timing.Wait(ctx, killConfirmSlack, h.Done()); err != nil {
		return stopOutcome{killed: true}, fmt.Errorf("process survived kill: %w", err)
	}
	status, _ := h.ExitStatus()
	return stopOutcome{status: status, killed: true}, nil
}
