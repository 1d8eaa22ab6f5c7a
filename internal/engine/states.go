package engine

// State is one vertex of the service lifecycle graph.
type State string

const (
	StatePending       State = "pending"
	StateStarting      State = "starting"
	StateAwaitingReady State = "awaiting-ready"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateCrashed       State = "crashed"
	StateKilled        State = "killed"
)

// Terminal reports whether no further transitions can follow.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateKilled
}

// transitions is the full lifecycle graph. A requested transition absent from
// the graph is a no-op; the supervisor is the single writer so anything else
// is unreachable.
var transitions = map[State][]State{
	StatePending:       {StateStarting, StateStopped},
	StateStarting:      {StateAwaitingReady, StateRunning, StateCrashed, StateStopping},
	StateAwaitingReady: {StateRunning, StateCrashed, StateStopping},
	StateRunning:       {StateStopping, StateCrashed},
	StateStopping:      {StateStopped, StateKilled},
	StateCrashed:       {StateStarting, StateStopped},
	StateStopped:       nil,
	StateKilled:        nil,
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
