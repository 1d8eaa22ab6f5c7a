// Package probe implements readiness detection for freshly launched services.
package probe

import (
	"context"
	"errors"

	"github.com/SamirTalwar/sandcastles/internal/config"
)

// ErrProcessExited reports that the process under test exited before its
// readiness check ever succeeded.
var ErrProcessExited = errors.New("process exited before becoming ready")

// Prober executes a single readiness attempt. A nil error means the target is
// accepting work; any other error is a reason to retry until the deadline.
type Prober interface {
	Probe(ctx context.Context) error
}

// New constructs a Prober for the supplied specification. The known probe
// kinds are a closed set dispatched here.
func New(spec *config.ProbeSpec) (Prober, error) {
	if spec == nil {
		return nil, errors.New("probe: missing specification")
	}
	switch {
	case spec.TCP != nil:
		return newTCPProber(spec.TCP), nil
	default:
		return nil, errors.New("probe: missing configuration")
	}
}
