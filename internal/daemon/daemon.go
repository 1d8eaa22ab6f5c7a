// Package daemon assembles the engine, the control API and the observers
// into a runnable process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpapi "github.com/SamirTalwar/sandcastles/internal/api/http"
	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/engine"
	"github.com/SamirTalwar/sandcastles/internal/log"
	"github.com/SamirTalwar/sandcastles/internal/metrics"
)

const (
	eventBuffer      = 256
	subscriberBuffer = 128
	shutdownTimeout  = 30 * time.Second
)

// Options configures a Daemon.
type Options struct {
	// Manifest optionally preloads services into a daemon-owned scope.
	Manifest *config.Document

	// Listen overrides the manifest's listen address.
	Listen string

	// Logger receives structured lifecycle logging. Nil selects a default.
	Logger *slog.Logger

	// Version is reported in status responses.
	Version string

	// Listener overrides the control API listener, used by tests.
	Listener net.Listener

	// Launcher overrides process launching, used by tests.
	Launcher engine.Launcher
}

// Daemon runs the engine behind the control API until told to stop.
type Daemon struct {
	logger     *slog.Logger
	eng        *engine.Engine
	events     chan engine.Event
	manifest   *config.Document
	listen     string
	listener   net.Listener
	version    string
	exitOnIdle bool

	mu         sync.Mutex
	subs       map[int]chan engine.Event
	nextSub    int
	subsClosed bool
}

// New builds a Daemon. The manifest, when present, must already be loaded
// through config.Load so defaults and validation have been applied.
func New(opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(nil)
	}
	events := make(chan engine.Event, eventBuffer)

	var defaults *config.Defaults
	listen := opts.Listen
	exitOnIdle := true
	if opts.Manifest != nil {
		defaults = &opts.Manifest.Defaults
		if listen == "" {
			listen = opts.Manifest.Daemon.Listen
		}
		if opts.Manifest.Daemon.ExitOnIdle != nil {
			exitOnIdle = *opts.Manifest.Daemon.ExitOnIdle
		}
	}

	return &Daemon{
		logger: logger,
		eng: engine.New(engine.Options{
			Events:   events,
			Launcher: opts.Launcher,
			Defaults: defaults,
		}),
		events:     events,
		manifest:   opts.Manifest,
		listen:     listen,
		listener:   opts.Listener,
		version:    opts.Version,
		exitOnIdle: exitOnIdle,
		subs:       make(map[int]chan engine.Event),
	}
}

// Run serves until the context is cancelled, a termination signal arrives,
// or the last scope closes while exit-on-idle is in effect.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.EmitBuildInfo()

	pumpDone := make(chan struct{})
	go d.pump(pumpDone)

	server, err := httpapi.NewServer(httpapi.Config{
		Addr:       d.listen,
		Controller: d,
		Listener:   d.listener,
	})
	if err != nil {
		d.finishPump(pumpDone)
		return err
	}

	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(serverCtx)
	}()
	d.logger.Info("control API listening", "addr", server.Addr())

	var runErr error
	serverStopped := false
	if err := d.boot(ctx); err != nil {
		runErr = err
	} else {
		idle := d.idleSignal()
		select {
		case <-ctx.Done():
			d.logger.Info("shutdown requested")
		case <-idle:
			d.logger.Info("all scopes closed, exiting")
		case err := <-serverErr:
			runErr = fmt.Errorf("control API: %w", err)
			serverStopped = true
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := d.eng.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("engine shutdown: %w", err)
	}

	cancelServer()
	if !serverStopped {
		if err := <-serverErr; err != nil && runErr == nil {
			runErr = fmt.Errorf("control API: %w", err)
		}
	}

	d.finishPump(pumpDone)
	return runErr
}

// boot preloads the manifest's services into a daemon-owned scope. Every
// service must come up; a definitive boot failure stops the daemon.
func (d *Daemon) boot(ctx context.Context) error {
	if d.manifest == nil || len(d.manifest.Services) == 0 {
		return nil
	}
	scope := d.eng.OpenScope()
	d.logger.Info("booting manifest services", log.ScopeKey, string(scope), "count", len(d.manifest.Services))

	names := make([]string, 0, len(d.manifest.Services))
	for name := range d.manifest.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		spec := d.manifest.Services[name]
		g.Go(func() error {
			if _, err := d.eng.StartService(ctx, scope, name, spec); err != nil {
				return fmt.Errorf("starting %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// idleSignal gates the engine's idle notification behind the exit-on-idle
// policy. A nil channel never fires.
func (d *Daemon) idleSignal() <-chan struct{} {
	if !d.exitOnIdle {
		return nil
	}
	return d.eng.Idle()
}

// finishPump closes the event feed and waits for the pump to drain it.
// Supervisors may still be tearing down after a deadlined shutdown; the feed
// must not close while any of them can still emit.
func (d *Daemon) finishPump(pumpDone <-chan struct{}) {
	d.eng.Quiesce()
	close(d.events)
	<-pumpDone
}

// pump consumes engine events, feeding the logger, the metrics registry and
// every subscriber until the feed closes.
func (d *Daemon) pump(done chan<- struct{}) {
	defer close(done)
	for evt := range d.events {
		d.logEvent(evt)
		d.recordMetrics(evt)
		d.fanout(evt)
	}
	d.mu.Lock()
	d.subsClosed = true
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
	d.mu.Unlock()
}

func (d *Daemon) logEvent(evt engine.Event) {
	attrs := []any{
		log.ServiceKey, evt.Name,
		log.ScopeKey, string(evt.Scope),
	}
	if evt.State != "" {
		attrs = append(attrs, log.StateKey, string(evt.State))
	}
	if evt.Reason != "" {
		attrs = append(attrs, log.ReasonKey, evt.Reason)
	}
	if evt.PID != 0 {
		attrs = append(attrs, log.PIDKey, evt.PID)
	}
	if evt.Attempt != 0 {
		attrs = append(attrs, log.AttemptKey, evt.Attempt)
	}
	if evt.Err != nil {
		attrs = append(attrs, "error", evt.Err.Error())
	}
	if evt.Exit != nil {
		attrs = append(attrs, "exit", evt.Exit.String())
	}

	switch evt.Type {
	case engine.EventTypeLog:
		attrs = append(attrs, log.SourceKey, evt.Source)
		d.logger.Debug(evt.Message, attrs...)
	case engine.EventTypeCrashed, engine.EventTypeFailed:
		d.logger.Error(evt.Message, attrs...)
	case engine.EventTypeKilled, engine.EventTypeRestarting:
		d.logger.Warn(evt.Message, attrs...)
	default:
		d.logger.Info(evt.Message, attrs...)
	}
}

func (d *Daemon) recordMetrics(evt engine.Event) {
	switch evt.Type {
	case engine.EventTypeReady:
		metrics.SetServiceUp(evt.Name, true)
	case engine.EventTypeCrashed:
		metrics.SetServiceUp(evt.Name, false)
		metrics.IncrementServiceCrash(evt.Name)
	case engine.EventTypeRestarting:
		metrics.IncrementServiceRestart(evt.Name)
	case engine.EventTypeStopping:
		metrics.SetServiceUp(evt.Name, false)
	case engine.EventTypeStopped:
		metrics.ResetService(evt.Name)
	case engine.EventTypeKilled:
		metrics.IncrementServiceKill(evt.Name)
		metrics.ResetService(evt.Name)
	case engine.EventTypeScopeOpened, engine.EventTypeScopeClosed:
		open := 0
		for _, sc := range d.eng.Scopes() {
			if !sc.Closed {
				open++
			}
		}
		metrics.SetScopesOpen(open)
	}
}

func (d *Daemon) fanout(evt engine.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		// slow subscribers lose events rather than stalling the pump
		select {
		case ch <- evt:
		default:
		}
	}
}
