package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/timing"
)

func tcpSpec(address string, deadline time.Duration) *config.ProbeSpec {
	return &config.ProbeSpec{
		TCP:      &config.TCPProbeSpec{Address: address},
		Interval: config.Duration{Duration: 10 * time.Millisecond},
		Timeout:  config.Duration{Duration: 100 * time.Millisecond},
		Deadline: config.Duration{Duration: deadline},
	}
}

func TestNewRequiresConfiguration(t *testing.T) {
	if _, err := New(&config.ProbeSpec{}); err == nil {
		t.Fatalf("expected an error for an empty probe spec")
	}
	if _, err := New(nil); err == nil {
		t.Fatalf("expected an error for a nil probe spec")
	}
}

func TestTCPProbeSucceedsAgainstListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	prober, err := New(tcpSpec(listener.Addr().String(), time.Second))
	if err != nil {
		t.Fatalf("new prober: %v", err)
	}
	if err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestTCPProbeFailsWithoutListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()

	prober, err := New(tcpSpec(address, time.Second))
	if err != nil {
		t.Fatalf("new prober: %v", err)
	}
	if err := prober.Probe(context.Background()); err == nil {
		t.Fatalf("expected a dial error")
	}
}

func TestAwaitReturnsOnceReady(t *testing.T) {
	spec := tcpSpec("127.0.0.1:1", 5*time.Second)
	attempts := 0
	runner := NewRunner(proberFunc(func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}), spec)

	if err := runner.Await(context.Background(), nil); err != nil {
		t.Fatalf("await: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestAwaitDeadline(t *testing.T) {
	spec := tcpSpec("127.0.0.1:1", 50*time.Millisecond)
	runner := NewRunner(proberFunc(func(ctx context.Context) error {
		return errors.New("never ready")
	}), spec)

	start := time.Now()
	err := runner.Await(context.Background(), nil)
	if !errors.Is(err, timing.ErrDeadline) {
		t.Fatalf("expected ErrDeadline, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("deadline observed only after %v", elapsed)
	}
}

func TestAwaitProcessExit(t *testing.T) {
	spec := tcpSpec("127.0.0.1:1", 5*time.Second)
	exited := make(chan struct{})
	close(exited)
	runner := NewRunner(proberFunc(func(ctx context.Context) error {
		return errors.New("not ready")
	}), spec)

	err := runner.Await(context.Background(), exited)
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}

func TestAwaitDiscardsLateSuccessAfterCancellation(t *testing.T) {
	spec := tcpSpec("127.0.0.1:1", 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(proberFunc(func(probeCtx context.Context) error {
		// The stop request arrives while the attempt is in flight; the
		// attempt still "succeeds" but must not be applied.
		cancel()
		return nil
	}), spec)

	err := runner.Await(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAwaitCancelledDuringInterval(t *testing.T) {
	spec := tcpSpec("127.0.0.1:1", 5*time.Second)
	spec.Interval = config.Duration{Duration: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(proberFunc(func(ctx context.Context) error {
		return errors.New("not ready")
	}), spec)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := runner.Await(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation observed only after %v", elapsed)
	}
}

type proberFunc func(ctx context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }
