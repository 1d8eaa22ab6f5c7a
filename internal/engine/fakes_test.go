package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/proc"
)

// fakeHandle is a scriptable stand-in for a launched process.
type fakeHandle struct {
	pid  int
	done chan struct{}

	// ignoreTerminate simulates a process that traps the polite signal and
	// refuses to die until killed.
	ignoreTerminate bool

	// failSignals simulates an operating system that rejects every signal,
	// leaving the process alive and its exit status unknowable.
	failSignals bool

	mu         sync.Mutex
	status     proc.ExitStatus
	exited     bool
	terminates int
	kills      int
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int                  { return h.pid }
func (h *fakeHandle) Done() <-chan struct{}     { return h.done }
func (h *fakeHandle) Logs() <-chan proc.LogLine { return nil }

func (h *fakeHandle) ExitStatus() (proc.ExitStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	h.terminates++
	ignore := h.ignoreTerminate
	fail := h.failSignals
	h.mu.Unlock()
	if fail {
		return errors.New("terminate rejected")
	}
	if !ignore {
		h.exit(proc.ExitStatus{Signal: 15, Signaled: true})
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.kills++
	fail := h.failSignals
	h.mu.Unlock()
	if fail {
		return errors.New("kill rejected")
	}
	h.exit(proc.ExitStatus{Signal: 9, Signaled: true})
	return nil
}

// exit records the status and closes done. Safe to call more than once.
func (h *fakeHandle) exit(status proc.ExitStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.status = status
	h.exited = true
	close(h.done)
}

func (h *fakeHandle) signalCounts() (terminates, kills int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminates, h.kills
}

// scriptedLauncher hands out pre-built handles in order and records every
// launch. Once the script is exhausted it keeps returning live handles.
type scriptedLauncher struct {
	mu      sync.Mutex
	script  []*fakeHandle
	handles []*fakeHandle
}

func (l *scriptedLauncher) launch(proc.StartSpec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var h *fakeHandle
	if len(l.handles) < len(l.script) {
		h = l.script[len(l.handles)]
	} else {
		h = newFakeHandle(1000 + len(l.handles))
	}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *scriptedLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *scriptedLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

// crashedHandle builds a handle whose process has already exited.
func crashedHandle(code int) *fakeHandle {
	h := newFakeHandle(0)
	h.exit(proc.ExitStatus{Code: code})
	return h
}

// waitUntil polls a condition until it holds or the deadline passes.
func waitUntil(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return condition()
}
