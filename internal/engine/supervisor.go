package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/probe"
	"github.com/SamirTalwar/sandcastles/internal/proc"
	"github.com/SamirTalwar/sandcastles/internal/timing"
)

// Handle abstracts the operating system process owned by a supervisor. The
// production implementation is *proc.Handle; tests substitute fakes.
type Handle interface {
	PID() int
	Done() <-chan struct{}
	Logs() <-chan proc.LogLine
	ExitStatus() (proc.ExitStatus, bool)
	Terminate() error
	Kill() error
}

// startupSettle is how long a probe-less process must survive after launch
// before it is considered running. Exit pipelines drain pipes before they
// report, so an instant exit is only observable after a short beat.
const startupSettle = 100 * time.Millisecond

// Launcher starts the process behind a service.
type Launcher func(spec proc.StartSpec) (Handle, error)

func defaultLauncher(spec proc.StartSpec) (Handle, error) {
	return proc.Launch(spec)
}

// supervisor owns one service for its whole lifetime. It is the single
// writer of the service's lifecycle state; everything else observes through
// snapshots and events. Stopping is requested by cancelling the supervisor's
// context, never by touching the process from outside.
type supervisor struct {
	svc    *service
	spec   *config.ServiceSpec
	launch Launcher
	events chan<- Event

	policy    restartPolicy
	hasPolicy bool
	grace     time.Duration

	// injectable for tests
	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
	now    func() time.Time
	await  func(ctx context.Context, spec *config.ProbeSpec, exited <-chan struct{}) error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	readyOnce sync.Once
	readyCh   chan error

	stopOnce sync.Once

	crashes []time.Time
}

func newSupervisor(svc *service, launch Launcher, events chan<- Event) *supervisor {
	sup := &supervisor{
		svc:     svc,
		spec:    svc.spec,
		launch:  launch,
		events:  events,
		grace:   svc.spec.GracePeriod.Duration,
		sleep:   timing.Sleep,
		jitter:  fullJitter,
		now:     time.Now,
		await:   awaitReadiness,
		done:    make(chan struct{}),
		readyCh: make(chan error, 1),
	}
	sup.policy, sup.hasPolicy = deriveRestartPolicy(svc.spec.Restart)
	if sup.grace <= 0 {
		sup.grace = config.DefaultGracePeriod
	}
	sup.ctx, sup.cancel = context.WithCancel(context.Background())
	return sup
}

func awaitReadiness(ctx context.Context, spec *config.ProbeSpec, exited <-chan struct{}) error {
	prober, err := probe.New(spec)
	if err != nil {
		return err
	}
	return probe.NewRunner(prober, spec).Await(ctx, exited)
}

// Start launches the supervision loop. The supervisor owns its own lifetime
// from here on; only Stop ends it.
func (s *supervisor) Start() {
	go s.run()
}

// Stop requests termination and waits for the supervisor to reach a terminal
// state. The context bounds only the wait; teardown continues regardless.
// Safe to call any number of times from any goroutine.
func (s *supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.stopOnce.Do(s.cancel)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done closes once the service has reached a terminal state.
func (s *supervisor) Done() <-chan struct{} {
	return s.done
}

// AwaitReady blocks until the first launch attempt resolves: the service is
// ready, or it has failed definitively.
func (s *supervisor) AwaitReady(ctx context.Context) error {
	select {
	case err := <-s.readyCh:
		// re-arm so later callers observe the same outcome
		s.readyCh <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *supervisor) deliverReady(err error) {
	s.readyOnce.Do(func() {
		s.readyCh <- err
	})
}

// run is the restart loop. Each iteration launches the process once and
// supervises it to completion; a crash consults the restart policy, anything
// else settles a terminal state and returns.
func (s *supervisor) run() {
	defer close(s.done)
	for {
		if err := s.ctx.Err(); err != nil {
			s.deliverReady(err)
			s.settle(StateStopped, ReasonStopRequest, nil)
			return
		}

		reason := ReasonInitialStart
		if s.svc.Restarts() > 0 {
			reason = ReasonRestart
		}
		s.transition(StateStarting, EventTypeStarting, "starting service", reason, nil)

		handle, err := s.launch(s.startSpec())
		if err != nil {
			launchErr := fmt.Errorf("%w: %v", ErrLaunchFailed, err)
			s.transition(StateCrashed, EventTypeCrashed, "launch failed", ReasonLaunchFailure, launchErr)
			s.deliverReady(launchErr)
			s.settle(StateStopped, ReasonLaunchFailure, launchErr)
			return
		}
		s.svc.setPID(handle.PID())

		crashErr := s.superviseProcess(handle)
		if crashErr == nil {
			// stop path, terminal state already settled
			return
		}

		now := s.now()
		s.crashes = append(s.crashes, now)
		decision := restartDecision{}
		if s.hasPolicy {
			s.crashes = s.policy.prune(s.crashes, now)
			decision = s.policy.decide(s.crashes, now)
		}

		if !decision.restart {
			if s.hasPolicy {
				exhausted := fmt.Errorf("%w: %v", ErrRestartsExhausted, crashErr)
				s.deliverReady(exhausted)
				s.event(EventTypeFailed, "giving up on service", ReasonRestartsExhausted, exhausted)
				s.settle(StateStopped, ReasonRestartsExhausted, exhausted)
			} else {
				s.deliverReady(crashErr)
				s.settle(StateStopped, ReasonNoRestartPolicy, crashErr)
			}
			return
		}

		attempt := s.svc.incRestarts()
		delay := s.jitter(decision.delay)
		evt := s.baseEvent(EventTypeRestarting)
		evt.Message = fmt.Sprintf("restarting in %s", delay.Round(time.Millisecond))
		evt.Reason = ReasonRestart
		evt.Err = crashErr
		evt.Attempt = attempt
		sendEvent(s.events, evt)

		if err := s.sleep(s.ctx, delay); err != nil {
			// a stop request cancels the pending restart immediately
			s.deliverReady(err)
			s.settle(StateStopped, ReasonStopRequest, nil)
			return
		}
	}
}

// superviseProcess sees one launched process through to its end. It returns
// a non-nil crash error when the restart policy should be consulted, and nil
// when a stop request already settled a terminal state.
func (s *supervisor) superviseProcess(h Handle) error {
	var logWG sync.WaitGroup
	if logs := h.Logs(); logs != nil {
		logWG.Add(1)
		go s.streamLogs(logs, &logWG)
	}
	defer logWG.Wait()

	if s.spec.Probe != nil {
		s.transition(StateAwaitingReady, EventTypeAwaitingReady, "waiting for readiness", "", nil)
		probeStart := s.now()
		err := s.await(s.ctx, s.spec.Probe, h.Done())
		switch {
		case err == nil:
			evt := s.baseEvent(EventTypeReady)
			evt.Message = "service ready"
			evt.Elapsed = s.now().Sub(probeStart)
			s.transitionEvent(StateRunning, evt)
			s.deliverReady(nil)
		case s.ctx.Err() != nil:
			s.deliverReady(s.ctx.Err())
			s.shutdown(h, ReasonStopRequest)
			return nil
		default:
			// the process must be gone before the state says so
			crashErr := classifyReadinessError(err, h)
			outcome, stopErr := stopProcess(context.Background(), h, s.grace)
			if stopErr != nil {
				// the exit status is unknown, leave it unset
				crashErr = fmt.Errorf("%w; teardown: %v", crashErr, stopErr)
			} else {
				s.svc.setExit(outcome.status)
			}
			s.transition(StateCrashed, EventTypeCrashed, "service failed readiness", readinessReason(err), crashErr)
			return crashErr
		}
	} else {
		// without a probe, a process must outlive the settle window before
		// it counts as running; one that exits under it never ran
		switch err := timing.Wait(s.ctx, startupSettle, h.Done()); {
		case err == nil:
			return s.recordCrash(h, "service exited during startup")
		case errors.Is(err, timing.ErrDeadline):
			s.transition(StateRunning, EventTypeReady, "service running", "", nil)
			s.deliverReady(nil)
		default:
			s.deliverReady(err)
			s.shutdown(h, ReasonStopRequest)
			return nil
		}
	}

	select {
	case <-h.Done():
		return s.recordCrash(h, "service exited unexpectedly")
	case <-s.ctx.Done():
		s.shutdown(h, ReasonStopRequest)
		return nil
	}
}

func (s *supervisor) recordCrash(h Handle, message string) error {
	status, _ := h.ExitStatus()
	s.svc.setExit(status)
	crashErr := fmt.Errorf("%w: %s", ErrCrashed, status)
	evt := s.baseEvent(EventTypeCrashed)
	evt.Message = message
	evt.Reason = ReasonProcessExit
	evt.Err = crashErr
	exit := status
	evt.Exit = &exit
	s.transitionEvent(StateCrashed, evt)
	return crashErr
}

// shutdown takes a live process through graceful termination and settles the
// terminal state. Teardown runs under a background-derived context so an
// impatient caller cannot abandon it halfway.
func (s *supervisor) shutdown(h Handle, reason string) {
	s.transition(StateStopping, EventTypeStopping, "stopping service", reason, nil)
	outcome, err := stopProcess(context.Background(), h, s.grace)
	if err == nil {
		s.svc.setExit(outcome.status)
	}
	if outcome.killed {
		s.transition(StateKilled, EventTypeKilled, "service killed after grace period", ReasonGraceExceeded, err)
		return
	}
	if err != nil {
		s.transition(StateKilled, EventTypeKilled, "service teardown failed", ReasonGraceExceeded, err)
		return
	}
	s.transition(StateStopped, EventTypeStopped, "service stopped", reason, nil)
}

// settle moves straight to a terminal state from outside the stopping path,
// for services that have no live process to tear down.
func (s *supervisor) settle(to State, reason string, err error) {
	typ := EventTypeStopped
	if to == StateKilled {
		typ = EventTypeKilled
	}
	s.transition(to, typ, "service "+string(to), reason, err)
}

func (s *supervisor) transition(to State, typ EventType, message, reason string, err error) {
	evt := s.baseEvent(typ)
	evt.Message = message
	evt.Reason = reason
	evt.Err = err
	s.transitionEvent(to, evt)
}

func (s *supervisor) transitionEvent(to State, evt Event) {
	if !s.svc.setState(to) {
		return
	}
	evt.State = to
	sendEvent(s.events, evt)
}

func (s *supervisor) event(typ EventType, message, reason string, err error) {
	evt := s.baseEvent(typ)
	evt.Message = message
	evt.Reason = reason
	evt.Err = err
	evt.State = s.svc.State()
	sendEvent(s.events, evt)
}

func (s *supervisor) baseEvent(typ EventType) Event {
	status := s.svc.Status()
	return Event{
		Scope:   status.Scope,
		Service: status.ID,
		Name:    status.Name,
		Type:    typ,
		State:   status.State,
		Attempt: status.Restarts,
		PID:     status.PID,
	}
}

func (s *supervisor) startSpec() proc.StartSpec {
	return proc.StartSpec{
		Name:    s.svc.name,
		Command: s.spec.Command,
		Workdir: s.spec.Workdir,
		Env:     s.spec.Env,
		PassEnv: s.spec.PassEnv,
	}
}

// streamLogs forwards process output as log events. Log lines are droppable
// under backpressure; a summary of anything dropped follows the stream.
func (s *supervisor) streamLogs(logs <-chan proc.LogLine, wg *sync.WaitGroup) {
	defer wg.Done()
	dropped := 0
	for line := range logs {
		evt := s.baseEvent(EventTypeLog)
		evt.Message = line.Message
		evt.Source = line.Source
		if !trySendEvent(s.events, evt) {
			dropped++
		}
	}
	if dropped > 0 {
		evt := s.baseEvent(EventTypeLog)
		evt.Message = fmt.Sprintf("dropped %d log lines under backpressure", dropped)
		evt.Source = proc.LogSourceStderr
		sendEvent(s.events, evt)
	}
}

func classifyReadinessError(err error, h Handle) error {
	switch {
	case errors.Is(err, probe.ErrProcessExited):
		status, _ := h.ExitStatus()
		return fmt.Errorf("%w before becoming ready: %s", ErrCrashed, status)
	case errors.Is(err, timing.ErrDeadline):
		return fmt.Errorf("%w: %v", ErrReadinessTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrReadinessFailed, err)
	}
}

func readinessReason(err error) string {
	switch {
	case errors.Is(err, probe.ErrProcessExited):
		return ReasonProcessExit
	case errors.Is(err, timing.ErrDeadline):
		return ReasonReadinessTimeout
	default:
		return ReasonReadinessFailure
	}
}
