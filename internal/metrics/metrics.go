// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	serviceState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sandcastles",
		Name:      "service_up",
		Help:      "Whether the service is currently running (1=running, 0=not running).",
	}, []string{"service"})

	serviceRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandcastles",
		Name:      "service_restarts_total",
		Help:      "Total number of restarts initiated for each service.",
	}, []string{"service"})

	serviceCrashes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandcastles",
		Name:      "service_crashes_total",
		Help:      "Total number of unexpected service exits.",
	}, []string{"service"})

	serviceKills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandcastles",
		Name:      "service_kills_total",
		Help:      "Total number of services force-killed after the grace period.",
	}, []string{"service"})

	scopesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sandcastles",
		Name:      "scopes_open",
		Help:      "Number of currently open scopes.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sandcastles",
		Name:      "build_info",
		Help:      "Build metadata for the running sandcastles binary.",
	}, []string{"go_version", "vcs_revision", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(serviceState, serviceRestarts, serviceCrashes, serviceKills, scopesOpen, buildInfo)
}

// Registry returns the Prometheus registry containing all daemon metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetServiceUp records whether a service is currently running.
func SetServiceUp(service string, up bool) {
	if service == "" {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	serviceState.WithLabelValues(service).Set(value)
}

// IncrementServiceRestart increments the restart counter for a service.
func IncrementServiceRestart(service string) {
	if service == "" {
		return
	}
	serviceRestarts.WithLabelValues(service).Inc()
}

// IncrementServiceCrash increments the crash counter for a service.
func IncrementServiceCrash(service string) {
	if service == "" {
		return
	}
	serviceCrashes.WithLabelValues(service).Inc()
}

// IncrementServiceKill increments the force-kill counter for a service.
func IncrementServiceKill(service string) {
	if service == "" {
		return
	}
	serviceKills.WithLabelValues(service).Inc()
}

// SetScopesOpen records the number of open scopes.
func SetScopesOpen(n int) {
	scopesOpen.Set(float64(n))
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs_revision": "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetService clears the running gauge once the service leaves the
// registry. Counters are kept so totals survive the service's departure.
func ResetService(service string) {
	if service == "" {
		return
	}
	serviceState.DeleteLabelValues(service)
}
