// Package timing bounds blocking operations with cancellable deadlines.
package timing

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline reports that an operation was abandoned because its deadline
// elapsed before it completed.
var ErrDeadline = errors.New("deadline elapsed")

// Sleep blocks for d or until ctx is cancelled, whichever comes first. A
// non-positive duration returns immediately with the context error, if any.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait blocks until done is closed, d elapses, or ctx is cancelled. It returns
// nil when done closed in time, ErrDeadline when the duration ran out first,
// and the context error when the caller gave up.
func Wait(ctx context.Context, d time.Duration, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	default:
	}
	var expired <-chan time.Time
	if d >= 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
		return nil
	case <-expired:
		return ErrDeadline
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Within runs fn under a deadline of d derived from ctx. When the deadline
// expires fn's context is cancelled, so a well-behaved operation unwinds and
// releases whatever it held; its cancellation error is reported as
// ErrDeadline. A non-positive d runs fn without an additional bound.
func Within(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(opCtx)
	if err == nil {
		return nil
	}
	if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return ErrDeadline
	}
	return err
}
