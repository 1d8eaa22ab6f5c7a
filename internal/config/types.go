package config

import (
	"fmt"
	"regexp"
	"time"
)

// Duration wraps time.Duration for YAML and JSON unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Document mirrors the daemon manifest structure.
type Document struct {
	Version  string                  `yaml:"version" json:"version"`
	Daemon   DaemonConfig            `yaml:"daemon" json:"daemon"`
	Defaults Defaults                `yaml:"defaults" json:"defaults"`
	Services map[string]*ServiceSpec `yaml:"services" json:"services"`
}

// DaemonConfig holds top-level daemon settings.
type DaemonConfig struct {
	Listen     string `yaml:"listen" json:"listen"`
	ExitOnIdle *bool  `yaml:"exitOnIdle" json:"exitOnIdle,omitempty"`
}

// Defaults captures default policies merged onto services.
type Defaults struct {
	Restart     *RestartPolicy `yaml:"restartPolicy" json:"restartPolicy,omitempty"`
	Probe       *ProbeSpec     `yaml:"readiness" json:"readiness,omitempty"`
	GracePeriod Duration       `yaml:"gracePeriod" json:"gracePeriod"`
}

// ServiceSpec describes one supervised service. A spec is immutable once
// submitted; the engine clones it on acceptance.
type ServiceSpec struct {
	Command []string          `yaml:"command" json:"command"`
	Workdir string            `yaml:"workdir" json:"workdir,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	// PassEnv names variables forwarded from the daemon's own environment.
	// Anything not listed here or in Env is withheld from the child.
	PassEnv     []string       `yaml:"passEnv" json:"passEnv,omitempty"`
	Probe       *ProbeSpec     `yaml:"readiness" json:"readiness,omitempty"`
	Restart     *RestartPolicy `yaml:"restartPolicy" json:"restartPolicy,omitempty"`
	GracePeriod Duration       `yaml:"gracePeriod" json:"gracePeriod"`
}

// ProbeSpec configures readiness probing for a service. Exactly one probe
// kind must be set; the known kinds are a closed set.
type ProbeSpec struct {
	TCP      *TCPProbeSpec `yaml:"tcp" json:"tcp,omitempty"`
	Interval Duration      `yaml:"interval" json:"interval"`
	Timeout  Duration      `yaml:"timeout" json:"timeout"`
	Deadline Duration      `yaml:"deadline" json:"deadline"`
}

// TCPProbeSpec defines a TCP connect probe.
type TCPProbeSpec struct {
	Address string `yaml:"address" json:"address"`
}

// RestartPolicy bounds automatic relaunching after a crash. MaxAttempts below
// zero means unlimited; zero disables restarts outright.
type RestartPolicy struct {
	MaxAttempts int          `yaml:"maxAttempts" json:"maxAttempts"`
	Window      Duration     `yaml:"window" json:"window"`
	Backoff     *BackoffSpec `yaml:"backoff" json:"backoff,omitempty"`
}

// BackoffSpec describes exponential backoff between restart attempts.
type BackoffSpec struct {
	Min    Duration `yaml:"min" json:"min"`
	Max    Duration `yaml:"max" json:"max"`
	Factor float64  `yaml:"factor" json:"factor"`
}

const (
	// DefaultProbeInterval paces readiness polling when unspecified.
	DefaultProbeInterval = 100 * time.Millisecond
	// DefaultProbeTimeout bounds a single probe attempt.
	DefaultProbeTimeout = time.Second
	// DefaultProbeDeadline bounds overall readiness waiting.
	DefaultProbeDeadline = 30 * time.Second
	// DefaultGracePeriod is allowed for voluntary exit after a stop request.
	DefaultGracePeriod = 10 * time.Second
	// DefaultRestartWindow is the sliding window crashes are counted in.
	DefaultRestartWindow = time.Minute
)

var serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidServiceName reports whether name is acceptable as a service name.
func ValidServiceName(name string) bool {
	return serviceNamePattern.MatchString(name)
}

// ApplyDefaults merges manifest defaults onto every service and fills in the
// built-in fallbacks for anything still unset.
func (d *Document) ApplyDefaults() {
	for _, svc := range d.Services {
		if svc == nil {
			continue
		}
		svc.ApplyDefaults(&d.Defaults)
	}
}

// ApplyDefaults merges the provided defaults onto the spec.
func (s *ServiceSpec) ApplyDefaults(defaults *Defaults) {
	if s == nil {
		return
	}
	if defaults != nil {
		if s.Restart == nil && defaults.Restart != nil {
			s.Restart = defaults.Restart.Clone()
		}
		if s.Probe != nil && defaults.Probe != nil {
			s.Probe.applyDefaults(defaults.Probe)
		}
		if !s.GracePeriod.IsSet() && defaults.GracePeriod.IsSet() {
			s.GracePeriod = defaults.GracePeriod
		}
	}
	if !s.GracePeriod.IsSet() {
		s.GracePeriod = Duration{Duration: DefaultGracePeriod}
	}
	if s.Probe != nil {
		s.Probe.fillBuiltins()
	}
	if s.Restart != nil {
		s.Restart.fillBuiltins()
	}
}

func (p *ProbeSpec) applyDefaults(defaults *ProbeSpec) {
	if defaults == nil {
		return
	}
	if !p.Interval.IsSet() {
		p.Interval = defaults.Interval
	}
	if !p.Timeout.IsSet() {
		p.Timeout = defaults.Timeout
	}
	if !p.Deadline.IsSet() {
		p.Deadline = defaults.Deadline
	}
}

func (p *ProbeSpec) fillBuiltins() {
	if p.Interval.Duration <= 0 {
		p.Interval = Duration{Duration: DefaultProbeInterval}
	}
	if p.Timeout.Duration <= 0 {
		p.Timeout = Duration{Duration: DefaultProbeTimeout}
	}
	if p.Deadline.Duration <= 0 {
		p.Deadline = Duration{Duration: DefaultProbeDeadline}
	}
}

func (r *RestartPolicy) fillBuiltins() {
	if !r.Window.IsSet() {
		r.Window = Duration{Duration: DefaultRestartWindow}
	}
}

// Validate enforces manifest invariants.
func (d *Document) Validate() error {
	if d.Version == "" {
		return fmt.Errorf("version: is required")
	}
	for name, svc := range d.Services {
		if svc == nil {
			return fmt.Errorf("services.%s: is null", name)
		}
		if !ValidServiceName(name) {
			return fmt.Errorf("services.%s: invalid name (expected lowercase letters, digits and hyphens)", name)
		}
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("services.%s: %w", name, err)
		}
	}
	return nil
}

// Validate enforces spec invariants.
func (s *ServiceSpec) Validate() error {
	if len(s.Command) == 0 {
		return fmt.Errorf("command: must contain at least one entry")
	}
	if s.Command[0] == "" {
		return fmt.Errorf("command: executable must be non-empty")
	}
	for i, name := range s.PassEnv {
		if name == "" {
			return fmt.Errorf("passEnv[%d]: must be non-empty", i)
		}
	}
	if s.GracePeriod.Duration < 0 {
		return fmt.Errorf("gracePeriod: must be non-negative")
	}
	if s.Probe != nil {
		if err := s.Probe.Validate(); err != nil {
			return fmt.Errorf("readiness: %w", err)
		}
	}
	if s.Restart != nil {
		if err := s.Restart.Validate(); err != nil {
			return fmt.Errorf("restartPolicy: %w", err)
		}
	}
	return nil
}

// Validate enforces probe invariants.
func (p *ProbeSpec) Validate() error {
	if p.TCP == nil {
		return fmt.Errorf("probe configuration is required")
	}
	if p.TCP.Address == "" {
		return fmt.Errorf("tcp.address: is required")
	}
	if p.Interval.Duration < 0 {
		return fmt.Errorf("interval: must be non-negative")
	}
	if p.Timeout.Duration < 0 {
		return fmt.Errorf("timeout: must be non-negative")
	}
	if p.Deadline.Duration < 0 {
		return fmt.Errorf("deadline: must be non-negative")
	}
	return nil
}

// Validate enforces restart policy invariants.
func (r *RestartPolicy) Validate() error {
	if r.Window.Duration < 0 {
		return fmt.Errorf("window: must be non-negative")
	}
	if r.Backoff != nil {
		if r.Backoff.Min.Duration < 0 || r.Backoff.Max.Duration < 0 {
			return fmt.Errorf("backoff: durations must be non-negative")
		}
		if r.Backoff.Factor < 0 {
			return fmt.Errorf("backoff.factor: must be non-negative")
		}
	}
	return nil
}

// Clone creates a deep copy of the spec.
func (s *ServiceSpec) Clone() *ServiceSpec {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Command != nil {
		cp.Command = append([]string(nil), s.Command...)
	}
	if s.Env != nil {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	if s.PassEnv != nil {
		cp.PassEnv = append([]string(nil), s.PassEnv...)
	}
	cp.Probe = s.Probe.Clone()
	cp.Restart = s.Restart.Clone()
	return &cp
}

// Clone creates a deep copy of the probe configuration.
func (p *ProbeSpec) Clone() *ProbeSpec {
	if p == nil {
		return nil
	}
	cp := *p
	if p.TCP != nil {
		tcp := *p.TCP
		cp.TCP = &tcp
	}
	return &cp
}

// Clone creates a deep copy of the restart policy.
func (r *RestartPolicy) Clone() *RestartPolicy {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Backoff != nil {
		backoff := *r.Backoff
		cp.Backoff = &backoff
	}
	return &cp
}
