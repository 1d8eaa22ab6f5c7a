package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/api"
	"github.com/SamirTalwar/sandcastles/internal/engine"
)

// The daemon is its own API controller.
var _ api.Controller = (*Daemon)(nil)

func (d *Daemon) Status(context.Context) (*api.StatusReport, error) {
	return &api.StatusReport{
		Version:     d.version,
		GeneratedAt: time.Now().UTC(),
		Scopes:      d.eng.Scopes(),
		Services:    d.eng.Services(),
	}, nil
}

func (d *Daemon) Services(context.Context) ([]engine.ServiceStatus, error) {
	return d.eng.Services(), nil
}

func (d *Daemon) Service(_ context.Context, ref string) (engine.ServiceStatus, error) {
	return d.eng.Service(ref)
}

func (d *Daemon) StartService(ctx context.Context, req api.StartServiceRequest) (engine.ServiceStatus, error) {
	if req.Service == nil {
		return engine.ServiceStatus{}, fmt.Errorf("service spec is required")
	}
	if req.Scope == "" {
		return engine.ServiceStatus{}, fmt.Errorf("%w: scope is required", engine.ErrUnknownScope)
	}
	return d.eng.StartService(ctx, engine.ScopeID(req.Scope), req.Name, req.Service)
}

func (d *Daemon) StopService(ctx context.Context, ref string) (engine.ServiceStatus, error) {
	return d.eng.StopService(ctx, ref)
}

func (d *Daemon) OpenScope(context.Context) (engine.ScopeStatus, error) {
	id := d.eng.OpenScope()
	return engine.ScopeStatus{ID: id}, nil
}

func (d *Daemon) CloseScope(ctx context.Context, id string) error {
	return d.eng.CloseScope(ctx, engine.ScopeID(id))
}

// Subscribe registers an event feed. Slow consumers lose events; the feed
// closes when released or when the daemon shuts down.
func (d *Daemon) Subscribe(context.Context) (<-chan engine.Event, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subsClosed {
		return nil, nil, fmt.Errorf("daemon is shutting down")
	}
	id := d.nextSub
	d.nextSub++
	ch := make(chan engine.Event, subscriberBuffer)
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}
