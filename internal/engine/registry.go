package engine

import (
	"sync"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/proc"
)

// ServiceID uniquely identifies a supervised service for its whole lifetime.
type ServiceID string

// ScopeID uniquely identifies a lifecycle scope.
type ScopeID string

// ServiceStatus is a point-in-time snapshot of one supervised service.
type ServiceStatus struct {
	ID       ServiceID        `json:"id"`
	Name     string           `json:"name"`
	Scope    ScopeID          `json:"scope"`
	State    State            `json:"state"`
	PID      int              `json:"pid,omitempty"`
	Restarts int              `json:"restarts"`
	Exit     *proc.ExitStatus `json:"exit,omitempty"`
	Since    time.Time        `json:"since"`
}

// ScopeStatus is a point-in-time snapshot of one scope and its members.
type ScopeStatus struct {
	ID       ScopeID     `json:"id"`
	Closed   bool        `json:"closed"`
	Services []ServiceID `json:"services"`
}

// service is the registry record for one supervised service. The lifecycle
// fields are written only by the owning supervisor goroutine; the mutex makes
// snapshots safe for concurrent readers.
type service struct {
	id    ServiceID
	name  string
	scope ScopeID
	spec  *config.ServiceSpec

	sup *supervisor

	mu       sync.Mutex
	state    State
	pid      int
	restarts int
	exit     *proc.ExitStatus
	since    time.Time
}

// setState applies a lifecycle transition, reporting whether it was legal.
// Illegal transitions leave the record untouched.
func (s *service) setState(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return false
	}
	s.state = to
	s.since = time.Now()
	return true
}

func (s *service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *service) setPID(pid int) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

func (s *service) setExit(status proc.ExitStatus) {
	s.mu.Lock()
	s.exit = &status
	s.mu.Unlock()
}

func (s *service) incRestarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return s.restarts
}

func (s *service) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Status captures a consistent snapshot of the record.
func (s *service) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := ServiceStatus{
		ID:       s.id,
		Name:     s.name,
		Scope:    s.scope,
		State:    s.state,
		Restarts: s.restarts,
		Since:    s.since,
	}
	if !s.state.Terminal() && s.state != StatePending {
		status.PID = s.pid
	}
	if s.exit != nil {
		exit := *s.exit
		status.Exit = &exit
	}
	return status
}
