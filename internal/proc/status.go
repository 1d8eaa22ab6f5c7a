package proc

import "fmt"

// ExitStatus records how a process exited: an exit code, or the signal that
// terminated it.
type ExitStatus struct {
	Code     int  `json:"code"`
	Signal   int  `json:"signal,omitempty"`
	Signaled bool `json:"signaled,omitempty"`
}

func (e ExitStatus) String() string {
	if e.Signaled {
		return fmt.Sprintf("signal %d", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}
