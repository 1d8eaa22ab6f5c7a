package probe

import (
	"context"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/timing"
)

// Runner polls a Prober until it reports readiness, the process under test
// exits, or the overall deadline elapses.
type Runner struct {
	prober Prober
	spec   *config.ProbeSpec

	sleep func(context.Context, time.Duration) error
}

// NewRunner constructs a runner for the provided probe specification.
func NewRunner(prober Prober, spec *config.ProbeSpec) *Runner {
	return &Runner{prober: prober, spec: spec, sleep: timing.Sleep}
}

// Await blocks until the probe succeeds (nil), the exited channel closes
// (ErrProcessExited), the deadline elapses (timing.ErrDeadline), or ctx is
// cancelled. A probe success that lands after ctx was cancelled is discarded
// in favour of the cancellation.
func (r *Runner) Await(ctx context.Context, exited <-chan struct{}) error {
	deadline := r.spec.Deadline.Duration
	if deadline <= 0 {
		deadline = config.DefaultProbeDeadline
	}
	interval := r.spec.Interval.Duration
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}

	probeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		select {
		case <-exited:
			return ErrProcessExited
		case <-probeCtx.Done():
			return r.expire(ctx, probeCtx)
		default:
		}

		err := timing.Within(probeCtx, r.spec.Timeout.Duration, r.prober.Probe)
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if probeCtx.Err() != nil {
			return r.expire(ctx, probeCtx)
		}

		if err := r.sleep(probeCtx, interval); err != nil {
			return r.expire(ctx, probeCtx)
		}
	}
}

func (r *Runner) expire(parent, probeCtx context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if probeCtx.Err() == context.DeadlineExceeded {
		return timing.ErrDeadline
	}
	return probeCtx.Err()
}
