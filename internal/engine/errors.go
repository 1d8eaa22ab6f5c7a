package engine

import "errors"

var (
	// ErrUnknownService is returned when a service id or name resolves to nothing.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownScope is returned when a scope id resolves to nothing.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrScopeClosed is returned when attaching a service to a scope whose
	// teardown has already begun.
	ErrScopeClosed = errors.New("scope is closed")

	// ErrServiceNameTaken is returned when a requested service name is
	// already held by a live service.
	ErrServiceNameTaken = errors.New("service name already in use")

	// ErrLaunchFailed wraps an operating system error that prevented the
	// service process from starting at all.
	ErrLaunchFailed = errors.New("service could not be launched")

	// ErrCrashed wraps the exit status of a process that died on its own.
	ErrCrashed = errors.New("service crashed")

	// ErrReadinessTimeout is returned when a service never passed its probe
	// within the configured deadline.
	ErrReadinessTimeout = errors.New("service did not become ready in time")

	// ErrReadinessFailed wraps a non-timeout probe failure.
	ErrReadinessFailed = errors.New("readiness probe failed")

	// ErrRestartsExhausted is returned after the restart policy gives up.
	ErrRestartsExhausted = errors.New("restart attempts exhausted")
)
