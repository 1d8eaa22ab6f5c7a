package engine

import (
	"time"

	"github.com/SamirTalwar/sandcastles/internal/proc"
)

// EventType classifies lifecycle and log events emitted by the engine.
type EventType string

const (
	EventTypeScopeOpened   EventType = "scope-opened"
	EventTypeScopeClosed   EventType = "scope-closed"
	EventTypeStarting      EventType = "starting"
	EventTypeAwaitingReady EventType = "awaiting-ready"
	EventTypeReady         EventType = "ready"
	EventTypeStopping      EventType = "stopping"
	EventTypeStopped       EventType = "stopped"
	EventTypeKilled        EventType = "killed"
	EventTypeCrashed       EventType = "crashed"
	EventTypeFailed        EventType = "failed"
	EventTypeRestarting    EventType = "restarting"
	EventTypeLog           EventType = "log"
)

// Reasons attached to lifecycle events.
const (
	ReasonInitialStart      = "initial-start"
	ReasonRestart           = "restart"
	ReasonProcessExit       = "process-exit"
	ReasonLaunchFailure     = "launch-failure"
	ReasonReadinessTimeout  = "readiness-timeout"
	ReasonReadinessFailure  = "readiness-failure"
	ReasonStopRequest       = "stop-request"
	ReasonGraceExceeded     = "grace-exceeded"
	ReasonRestartsExhausted = "restarts-exhausted"
	ReasonNoRestartPolicy   = "no-restart-policy"
)

// Event is a single observation from the engine. Lifecycle events carry the
// post-transition state; log events carry a line from the process streams.
type Event struct {
	Timestamp time.Time        `json:"timestamp"`
	Scope     ScopeID          `json:"scope,omitempty"`
	Service   ServiceID        `json:"service,omitempty"`
	Name      string           `json:"name,omitempty"`
	Type      EventType        `json:"type"`
	State     State            `json:"state,omitempty"`
	Message   string           `json:"message,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Source    string           `json:"source,omitempty"`
	Err       error            `json:"-"`
	Error     string           `json:"error,omitempty"`
	Attempt   int              `json:"attempt,omitempty"`
	PID       int              `json:"pid,omitempty"`
	Exit      *proc.ExitStatus `json:"exit,omitempty"`
	Elapsed   time.Duration    `json:"elapsed,omitempty"`
}

// sendEvent delivers a lifecycle event, blocking until the consumer accepts
// it. The events channel is buffered by the owner; a nil channel discards.
func sendEvent(events chan<- Event, evt Event) {
	if events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Err != nil && evt.Error == "" {
		evt.Error = evt.Err.Error()
	}
	events <- evt
}

// trySendEvent delivers without blocking. Used for log lines, which are
// droppable under backpressure where lifecycle events are not.
func trySendEvent(events chan<- Event, evt Event) bool {
	if events == nil {
		return true
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case events <- evt:
		return true
	default:
		return false
	}
}
