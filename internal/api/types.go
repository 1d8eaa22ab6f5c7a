// Package api defines the control surface between the daemon and its
// transports.
package api

import (
	stdcontext "context"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/engine"
)

// StartServiceRequest carries everything needed to attach a service.
type StartServiceRequest struct {
	Scope   string              `json:"scope"`
	Name    string              `json:"name,omitempty"`
	Service *config.ServiceSpec `json:"service"`
}

// StatusReport aggregates daemon-wide status information.
type StatusReport struct {
	Version     string                 `json:"version"`
	GeneratedAt time.Time              `json:"generated_at"`
	Scopes      []engine.ScopeStatus   `json:"scopes"`
	Services    []engine.ServiceStatus `json:"services"`
}

// Controller exposes the daemon operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Services(stdcontext.Context) ([]engine.ServiceStatus, error)
	Service(stdcontext.Context, string) (engine.ServiceStatus, error)
	StartService(stdcontext.Context, StartServiceRequest) (engine.ServiceStatus, error)
	StopService(stdcontext.Context, string) (engine.ServiceStatus, error)
	OpenScope(stdcontext.Context) (engine.ScopeStatus, error)
	CloseScope(stdcontext.Context, string) error

	// Subscribe registers an event feed. The returned cancel function must
	// be called to release the subscription; the channel closes afterwards.
	Subscribe(stdcontext.Context) (<-chan engine.Event, func(), error)
}
