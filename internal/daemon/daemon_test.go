package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SamirTalwar/sandcastles/internal/api"
	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/engine"
	"github.com/SamirTalwar/sandcastles/internal/proc"
)

// stubHandle is a live process stand-in that dies on the first signal.
type stubHandle struct {
	pid  int
	done chan struct{}

	mu     sync.Mutex
	status proc.ExitStatus
	exited bool
}

func newStubHandle(pid int) *stubHandle {
	return &stubHandle{pid: pid, done: make(chan struct{})}
}

func (h *stubHandle) PID() int                  { return h.pid }
func (h *stubHandle) Done() <-chan struct{}     { return h.done }
func (h *stubHandle) Logs() <-chan proc.LogLine { return nil }

func (h *stubHandle) ExitStatus() (proc.ExitStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

func (h *stubHandle) Terminate() error { h.exit(proc.ExitStatus{Signal: 15, Signaled: true}); return nil }
func (h *stubHandle) Kill() error      { h.exit(proc.ExitStatus{Signal: 9, Signaled: true}); return nil }

func (h *stubHandle) exit(status proc.ExitStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.status = status
	h.exited = true
	close(h.done)
}

func stubLauncher(proc.StartSpec) (engine.Handle, error) {
	return newStubHandle(4711), nil
}

func startDaemon(t *testing.T, opts Options) (string, <-chan error, context.CancelFunc) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opts.Listener = listener

	d := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(ctx)
	}()
	return "http://" + listener.Addr().String(), runErr, cancel
}

func httpJSON(t *testing.T, method, url string, payload, out any) int {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestDaemonLifecycleOverHTTP(t *testing.T) {
	base, runErr, cancel := startDaemon(t, Options{Launcher: stubLauncher, Version: "test"})
	defer cancel()

	var opened struct {
		Scope engine.ScopeStatus `json:"scope"`
	}
	code := httpJSON(t, http.MethodPost, base+"/api/v1/scopes", nil, &opened)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, opened.Scope.ID)

	var started struct {
		Service engine.ServiceStatus `json:"service"`
	}
	code = httpJSON(t, http.MethodPost, base+"/api/v1/services", api.StartServiceRequest{
		Scope:   string(opened.Scope.ID),
		Name:    "db",
		Service: &config.ServiceSpec{Command: []string{"postgres"}},
	}, &started)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, engine.StateRunning, started.Service.State)
	require.Equal(t, 4711, started.Service.PID)

	var status api.StatusReport
	code = httpJSON(t, http.MethodGet, base+"/api/v1/status", nil, &status)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "test", status.Version)
	require.Len(t, status.Services, 1)
	require.Len(t, status.Scopes, 1)

	var stopped struct {
		Service engine.ServiceStatus `json:"service"`
	}
	code = httpJSON(t, http.MethodDelete, base+"/api/v1/services/db", nil, &stopped)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, engine.StateStopped, stopped.Service.State)

	// closing the last scope makes the idle daemon exit on its own
	code = httpJSON(t, http.MethodDelete, base+"/api/v1/scopes/"+string(opened.Scope.ID), nil, nil)
	require.Equal(t, http.StatusOK, code)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit after the last scope closed")
	}
}

func TestDaemonStopsOnContextCancel(t *testing.T) {
	_, runErr, cancel := startDaemon(t, Options{Launcher: stubLauncher})
	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop on cancellation")
	}
}

func TestDaemonBootsManifestServices(t *testing.T) {
	manifest := &config.Document{
		Version: "1",
		Services: map[string]*config.ServiceSpec{
			"web": {Command: []string{"serve"}},
		},
	}
	manifest.ApplyDefaults()
	require.NoError(t, manifest.Validate())

	base, runErr, cancel := startDaemon(t, Options{Launcher: stubLauncher, Manifest: manifest})
	defer cancel()

	var listed struct {
		Services []engine.ServiceStatus `json:"services"`
	}
	require.True(t, eventually(5*time.Second, func() bool {
		if httpJSON(t, http.MethodGet, base+"/api/v1/services", nil, &listed) != http.StatusOK {
			return false
		}
		return len(listed.Services) == 1 && listed.Services[0].State == engine.StateRunning
	}), "manifest service never came up: %+v", listed)
	require.Equal(t, "web", listed.Services[0].Name)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonBootFailureStopsDaemon(t *testing.T) {
	manifest := &config.Document{
		Version: "1",
		Services: map[string]*config.ServiceSpec{
			"broken": {Command: []string{"nope"}},
		},
	}
	manifest.ApplyDefaults()

	launch := func(proc.StartSpec) (engine.Handle, error) {
		return nil, fmt.Errorf("executable missing")
	}
	_, runErr, cancel := startDaemon(t, Options{Launcher: launch, Manifest: manifest})
	defer cancel()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, engine.ErrLaunchFailed)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after boot failure")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	d := New(Options{Launcher: stubLauncher})
	events, release, err := d.Subscribe(context.Background())
	require.NoError(t, err)
	defer release()

	go d.pump(make(chan struct{}, 1))
	scope := d.eng.OpenScope()

	select {
	case evt := <-events:
		require.Equal(t, engine.EventTypeScopeOpened, evt.Type)
		require.Equal(t, scope, evt.Scope)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never received the scope event")
	}

	release()
	if _, ok := <-events; ok {
		// a released feed may drain buffered events before closing
		for range events {
		}
	}
	close(d.events)
}

func eventually(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}
