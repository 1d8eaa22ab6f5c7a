package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validSpec() *ServiceSpec {
	return &ServiceSpec{
		Command: []string{"postgres", "-D", "/srv/data"},
		Env:     map[string]string{"PGPORT": "5432"},
		Probe: &ProbeSpec{
			TCP: &TCPProbeSpec{Address: "127.0.0.1:5432"},
		},
	}
}

func TestServiceSpecValidate(t *testing.T) {
	require.NoError(t, validSpec().Validate())
}

func TestServiceSpecValidateRequiresCommand(t *testing.T) {
	spec := validSpec()
	spec.Command = nil
	require.ErrorContains(t, spec.Validate(), "command")
}

func TestServiceSpecValidateRejectsEmptyExecutable(t *testing.T) {
	spec := validSpec()
	spec.Command = []string{""}
	require.ErrorContains(t, spec.Validate(), "executable")
}

func TestServiceSpecValidateRejectsEmptyPassEnvEntry(t *testing.T) {
	spec := validSpec()
	spec.PassEnv = []string{"PATH", ""}
	require.ErrorContains(t, spec.Validate(), "passEnv[1]")
}

func TestProbeSpecValidateRequiresKind(t *testing.T) {
	spec := validSpec()
	spec.Probe = &ProbeSpec{}
	require.ErrorContains(t, spec.Validate(), "probe configuration is required")
}

func TestProbeSpecValidateRequiresAddress(t *testing.T) {
	spec := validSpec()
	spec.Probe.TCP.Address = ""
	require.ErrorContains(t, spec.Validate(), "tcp.address")
}

func TestApplyDefaultsFillsBuiltins(t *testing.T) {
	spec := validSpec()
	spec.ApplyDefaults(nil)

	require.Equal(t, DefaultGracePeriod, spec.GracePeriod.Duration)
	require.Equal(t, DefaultProbeInterval, spec.Probe.Interval.Duration)
	require.Equal(t, DefaultProbeTimeout, spec.Probe.Timeout.Duration)
	require.Equal(t, DefaultProbeDeadline, spec.Probe.Deadline.Duration)
}

func TestApplyDefaultsMergesManifestDefaults(t *testing.T) {
	spec := validSpec()
	defaults := &Defaults{
		Restart: &RestartPolicy{
			MaxAttempts: 5,
			Backoff:     &BackoffSpec{Factor: 3},
		},
		Probe:       &ProbeSpec{Interval: Duration{Duration: 50 * time.Millisecond}},
		GracePeriod: Duration{Duration: 2 * time.Second},
	}
	spec.ApplyDefaults(defaults)

	require.NotNil(t, spec.Restart)
	require.Equal(t, 5, spec.Restart.MaxAttempts)
	require.Equal(t, DefaultRestartWindow, spec.Restart.Window.Duration)
	require.Equal(t, 50*time.Millisecond, spec.Probe.Interval.Duration)
	require.Equal(t, 2*time.Second, spec.GracePeriod.Duration)

	// The default policy must be copied, not shared.
	spec.Restart.MaxAttempts = 1
	require.Equal(t, 5, defaults.Restart.MaxAttempts)
}

func TestApplyDefaultsDoesNotOverrideExplicit(t *testing.T) {
	spec := validSpec()
	spec.GracePeriod = Duration{Duration: time.Second, explicit: true}
	spec.Probe.Interval = Duration{Duration: time.Millisecond}
	spec.ApplyDefaults(&Defaults{GracePeriod: Duration{Duration: 9 * time.Second}})

	require.Equal(t, time.Second, spec.GracePeriod.Duration)
	require.Equal(t, time.Millisecond, spec.Probe.Interval.Duration)
}

func TestCloneIsDeep(t *testing.T) {
	spec := validSpec()
	spec.Restart = &RestartPolicy{MaxAttempts: 2, Backoff: &BackoffSpec{Factor: 2}}
	clone := spec.Clone()

	clone.Command[0] = "mysqld"
	clone.Env["PGPORT"] = "9999"
	clone.Probe.TCP.Address = "elsewhere:1"
	clone.Restart.Backoff.Factor = 7

	require.Equal(t, "postgres", spec.Command[0])
	require.Equal(t, "5432", spec.Env["PGPORT"])
	require.Equal(t, "127.0.0.1:5432", spec.Probe.TCP.Address)
	require.Equal(t, float64(2), spec.Restart.Backoff.Factor)
}

func TestValidServiceName(t *testing.T) {
	valid := []string{"db", "web-1", "a2c"}
	invalid := []string{"", "Db", "-db", "db/1", "1db"}
	for _, name := range valid {
		require.True(t, ValidServiceName(name), name)
	}
	for _, name := range invalid {
		require.False(t, ValidServiceName(name), name)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1.5s")))
	require.Equal(t, 1500*time.Millisecond, d.Duration)
	require.True(t, d.IsSet())

	var empty Duration
	require.NoError(t, empty.UnmarshalText(nil))
	require.True(t, empty.IsSet())
	require.Zero(t, empty.Duration)

	var bad Duration
	require.Error(t, bad.UnmarshalText([]byte("soon")))
}
