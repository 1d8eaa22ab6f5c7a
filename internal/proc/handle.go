package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// LogLine is a single line of child process output.
type LogLine struct {
	Message string
	Source  string
}

const (
	// LogSourceStdout marks lines read from the child's standard output.
	LogSourceStdout = "stdout"
	// LogSourceStderr marks lines read from the child's standard error.
	LogSourceStderr = "stderr"
)

// Handle owns one running OS process. Exactly one Handle exists per launch;
// a restarted service gets a fresh Handle.
type Handle struct {
	name string
	cmd  *exec.Cmd
	logs chan LogLine
	done chan struct{}

	mu     sync.Mutex
	status ExitStatus
	exited bool
}

// Launch starts the OS process described by spec. It fails fast when the
// executable cannot be found or started.
func Launch(spec StartSpec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("service %s requires a command", spec.Name)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}
	cmd.Env = spec.environ()
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("service %s stdout: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("service %s stderr: %w", spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start service %s: %w", spec.Name, err)
	}

	h := &Handle{
		name: spec.Name,
		cmd:  cmd,
		logs: make(chan LogLine, 64),
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go h.streamLogs(stdout, LogSourceStdout, &wg)
	go h.streamLogs(stderr, LogSourceStderr, &wg)

	go func() {
		wg.Wait()
		close(h.logs)
		_ = cmd.Wait()
		h.record(exitStatusFromState(cmd.ProcessState))
		close(h.done)
	}()

	return h, nil
}

// PID returns the OS process identifier.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and its status is recorded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Logs returns the child's output stream. The channel closes when both pipes
// reach EOF.
func (h *Handle) Logs() <-chan LogLine {
	return h.logs
}

// ExitStatus reports the recorded exit status, if the process has exited.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

// Poll is the non-blocking exit check: it never waits, reporting whatever
// status has been recorded so far.
func (h *Handle) Poll() (ExitStatus, bool) {
	return h.ExitStatus()
}

// Wait suspends the caller until the process exits or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		status, _ := h.ExitStatus()
		return status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

func (h *Handle) record(status ExitStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	h.exited = true
}

func (h *Handle) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		h.logs <- LogLine{Message: scanner.Text(), Source: source}
	}
}
