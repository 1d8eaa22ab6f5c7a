package engine

import (
	"math/rand"
	"time"

	"github.com/SamirTalwar/sandcastles/internal/config"
)

const (
	defaultBackoffMin    = 500 * time.Millisecond
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffFactor = 2.0
)

// restartPolicy is the resolved form of config.RestartPolicy with every
// optional knob filled in.
type restartPolicy struct {
	maxAttempts int
	window      time.Duration
	min         time.Duration
	max         time.Duration
	factor      float64
}

// deriveRestartPolicy resolves the configured policy. The second return is
// false when no policy is configured, or when the policy explicitly disables
// restarts with MaxAttempts of zero.
func deriveRestartPolicy(spec *config.RestartPolicy) (restartPolicy, bool) {
	if spec == nil || spec.MaxAttempts == 0 {
		return restartPolicy{}, false
	}
	policy := restartPolicy{
		maxAttempts: spec.MaxAttempts,
		window:      config.DefaultRestartWindow,
		min:         defaultBackoffMin,
		max:         defaultBackoffMax,
		factor:      defaultBackoffFactor,
	}
	if spec.Window.IsSet() {
		policy.window = spec.Window.Duration
	}
	if b := spec.Backoff; b != nil {
		if b.Min.IsSet() {
			policy.min = b.Min.Duration
		}
		if b.Max.IsSet() {
			policy.max = b.Max.Duration
		}
		if b.Factor > 0 {
			policy.factor = b.Factor
		}
	}
	if policy.max < policy.min {
		policy.max = policy.min
	}
	return policy, true
}

type restartDecision struct {
	restart bool
	delay   time.Duration
}

// decide inspects the crash history, which must already include the crash
// being decided, and returns whether to relaunch and after what base delay.
// A negative maxAttempts never gives up.
func (p restartPolicy) decide(crashes []time.Time, now time.Time) restartDecision {
	inWindow := 0
	for _, at := range crashes {
		if p.window <= 0 || now.Sub(at) <= p.window {
			inWindow++
		}
	}
	if inWindow == 0 {
		inWindow = 1
	}
	if p.maxAttempts >= 0 && inWindow-1 >= p.maxAttempts {
		return restartDecision{}
	}
	delay := p.min
	for i := 1; i < inWindow; i++ {
		next := time.Duration(float64(delay) * p.factor)
		if next >= p.max || next < delay {
			delay = p.max
			break
		}
		delay = next
	}
	return restartDecision{restart: true, delay: delay}
}

// prune drops crash timestamps that have aged out of the window so the
// history cannot grow without bound on a long-lived flapping service.
func (p restartPolicy) prune(crashes []time.Time, now time.Time) []time.Time {
	if p.window <= 0 {
		return crashes
	}
	kept := crashes[:0]
	for _, at := range crashes {
		if now.Sub(at) <= p.window {
			kept = append(kept, at)
		}
	}
	return kept
}

// fullJitter spreads restart delays uniformly over (0, delay] so that
// services sharing a crash cause do not relaunch in lockstep.
func fullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay))) + 1
}
