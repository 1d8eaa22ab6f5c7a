// Package engine supervises local processes grouped into lifecycle scopes.
//
// Each service is owned by a single supervisor goroutine that is the only
// writer of its lifecycle state. The engine is the registry and the public
// surface: it opens and closes scopes, attaches services, and resolves
// snapshots for observers. Closing a scope tears its members down in
// parallel and is the only way a healthy service leaves the system.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SamirTalwar/sandcastles/internal/config"
)

// Options configures a new Engine.
type Options struct {
	// Events receives lifecycle and log events. The channel should be
	// buffered; lifecycle events block until accepted. Nil discards.
	Events chan<- Event

	// Launcher starts service processes. Nil selects the real one.
	Launcher Launcher

	// Defaults are applied to every service spec on attach.
	Defaults *config.Defaults
}

// Engine is the root object. It is safe for concurrent use.
type Engine struct {
	events   chan<- Event
	launch   Launcher
	defaults *config.Defaults

	running sync.WaitGroup

	mu       sync.Mutex
	services map[ServiceID]*service
	names    map[string]ServiceID
	scopes   map[ScopeID]*scope
	idle     chan struct{}
}

// scope groups services that live and die together. A scope that has begun
// closing never accepts new members.
type scope struct {
	id      ScopeID
	members map[ServiceID]*service
	closing bool
	closed  bool
}

func New(opts Options) *Engine {
	launch := opts.Launcher
	if launch == nil {
		launch = defaultLauncher
	}
	return &Engine{
		events:   opts.Events,
		launch:   launch,
		defaults: opts.Defaults,
		services: make(map[ServiceID]*service),
		names:    make(map[string]ServiceID),
		scopes:   make(map[ScopeID]*scope),
		idle:     make(chan struct{}, 1),
	}
}

// OpenScope creates a new empty scope and returns its id.
func (e *Engine) OpenScope() ScopeID {
	id := ScopeID(uuid.NewString())
	e.mu.Lock()
	e.scopes[id] = &scope{id: id, members: make(map[ServiceID]*service)}
	e.mu.Unlock()
	sendEvent(e.events, Event{Scope: id, Type: EventTypeScopeOpened, Message: "scope opened"})
	return id
}

// StartService attaches a service to a scope and blocks until it is ready or
// has failed definitively. A failed start still returns the final snapshot
// so callers can inspect the exit status. The context bounds only the wait;
// supervision itself outlives the call.
func (e *Engine) StartService(ctx context.Context, scopeID ScopeID, name string, spec *config.ServiceSpec) (ServiceStatus, error) {
	if spec == nil {
		return ServiceStatus{}, fmt.Errorf("service spec is required")
	}
	spec = spec.Clone()
	spec.ApplyDefaults(e.defaults)
	if err := spec.Validate(); err != nil {
		return ServiceStatus{}, err
	}

	svc, err := e.attach(scopeID, name, spec)
	if err != nil {
		return ServiceStatus{}, err
	}

	svc.sup.Start()
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		<-svc.sup.Done()
		e.detach(svc)
	}()

	if err := svc.sup.AwaitReady(ctx); err != nil {
		return svc.Status(), err
	}
	return svc.Status(), nil
}

func (e *Engine) attach(scopeID ScopeID, name string, spec *config.ServiceSpec) (*service, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sc, ok := e.scopes[scopeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scopeID)
	}
	if sc.closing || sc.closed {
		return nil, fmt.Errorf("%w: %s", ErrScopeClosed, scopeID)
	}

	id := ServiceID(uuid.NewString())
	if name == "" {
		name = generatedName(id, e.names)
	} else {
		if !config.ValidServiceName(name) {
			return nil, fmt.Errorf("invalid service name %q", name)
		}
		if _, taken := e.names[name]; taken {
			return nil, fmt.Errorf("%w: %s", ErrServiceNameTaken, name)
		}
	}

	svc := &service{
		id:    id,
		name:  name,
		scope: scopeID,
		spec:  spec,
		state: StatePending,
		since: time.Now(),
	}
	svc.sup = newSupervisor(svc, e.launch, e.events)
	e.services[id] = svc
	e.names[name] = id
	sc.members[id] = svc
	return svc, nil
}

// detach removes a terminal service from the registry, freeing its name.
func (e *Engine) detach(svc *service) {
	e.mu.Lock()
	delete(e.services, svc.id)
	if e.names[svc.name] == svc.id {
		delete(e.names, svc.name)
	}
	if sc, ok := e.scopes[svc.scope]; ok {
		delete(sc.members, svc.id)
	}
	e.mu.Unlock()
}

// StopService terminates one service and waits for it to reach a terminal
// state. The returned snapshot reflects the terminal state on success.
func (e *Engine) StopService(ctx context.Context, ref string) (ServiceStatus, error) {
	svc, err := e.resolve(ref)
	if err != nil {
		return ServiceStatus{}, err
	}
	if err := svc.sup.Stop(ctx); err != nil {
		return svc.Status(), err
	}
	return svc.Status(), nil
}

// CloseScope stops every member in parallel and closes the scope. Closing is
// one-way: once requested the scope accepts no new members even if this call
// returns early. Closing an already-closed scope is a no-op.
func (e *Engine) CloseScope(ctx context.Context, id ScopeID) error {
	e.mu.Lock()
	sc, ok := e.scopes[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownScope, id)
	}
	if sc.closed {
		e.mu.Unlock()
		return nil
	}
	sc.closing = true
	members := make([]*service, 0, len(sc.members))
	for _, svc := range sc.members {
		members = append(members, svc)
	}
	e.mu.Unlock()

	var g errgroup.Group
	for _, svc := range members {
		g.Go(func() error {
			return svc.sup.Stop(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		// members are still tearing down; a retry converges
		return err
	}

	e.mu.Lock()
	sc.closed = true
	open := 0
	for _, other := range e.scopes {
		if !other.closed {
			open++
		}
	}
	e.mu.Unlock()

	sendEvent(e.events, Event{Scope: id, Type: EventTypeScopeClosed, Message: "scope closed"})
	if open == 0 {
		select {
		case e.idle <- struct{}{}:
		default:
		}
	}
	return nil
}

// Shutdown closes every open scope in parallel.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]ScopeID, 0, len(e.scopes))
	for id, sc := range e.scopes {
		if !sc.closed {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			return e.CloseScope(ctx, id)
		})
	}
	return g.Wait()
}

// Quiesce blocks until every supervisor goroutine has exited. Shutdown can
// return on its context deadline while teardown continues in the background;
// the event channel must stay open until Quiesce returns.
func (e *Engine) Quiesce() {
	e.running.Wait()
}

// Idle signals whenever the last open scope closes.
func (e *Engine) Idle() <-chan struct{} {
	return e.idle
}

// Service resolves one service by id or name and returns its snapshot.
func (e *Engine) Service(ref string) (ServiceStatus, error) {
	svc, err := e.resolve(ref)
	if err != nil {
		return ServiceStatus{}, err
	}
	return svc.Status(), nil
}

// Services snapshots every live service, ordered by name.
func (e *Engine) Services() []ServiceStatus {
	e.mu.Lock()
	services := make([]*service, 0, len(e.services))
	for _, svc := range e.services {
		services = append(services, svc)
	}
	e.mu.Unlock()

	statuses := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		statuses = append(statuses, svc.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// Scopes snapshots every scope, open and closed, ordered by id.
func (e *Engine) Scopes() []ScopeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	statuses := make([]ScopeStatus, 0, len(e.scopes))
	for _, sc := range e.scopes {
		status := ScopeStatus{ID: sc.id, Closed: sc.closed}
		for id := range sc.members {
			status.Services = append(status.Services, id)
		}
		sort.Slice(status.Services, func(i, j int) bool {
			return status.Services[i] < status.Services[j]
		})
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses
}

func (e *Engine) resolve(ref string) (*service, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if svc, ok := e.services[ServiceID(ref)]; ok {
		return svc, nil
	}
	if id, ok := e.names[ref]; ok {
		return e.services[id], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownService, ref)
}

// generatedName derives a stable human-typable name from the service id,
// falling back to the full id on the unlikely prefix collision.
func generatedName(id ServiceID, taken map[string]ServiceID) string {
	name := fmt.Sprintf("service-%.8s", string(id))
	if _, exists := taken[name]; exists {
		name = "service-" + string(id)
	}
	return name
}
