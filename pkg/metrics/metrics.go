// Package metrics provides Prometheus metrics for zstack-ethdev.
//
// This package exposes metrics for monitoring the port layer:
//   - Port operation counts and latency (configure/start/stop/close/...)
//   - Attached port count
//   - Hot-plug attach/detach results
//   - Event callback dispatches and unregister retries
//   - Recorded port lifecycle events
//   - Per-port extended statistics through StatsCollector
//
// Metrics are exposed by the daemon on its metrics endpoint
// (default :9464/metrics).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "zstack_ethdev"

	// Subsystem names for different metric categories
	SubsystemPort     = "port"
	SubsystemHotplug  = "hotplug"
	SubsystemCallback = "callback"
	SubsystemEvents   = "events"
)

var (
	// registerOnce ensures metrics are registered only once
	registerOnce sync.Once

	// ---- Port Metrics ----

	// PortOperationDuration measures the time taken by port operations
	// Labels: operation (configure/start/stop/...), result (success/failure)
	PortOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPort,
			Name:      "operation_duration_seconds",
			Help:      "Time taken for port operations in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation", "result"},
	)

	// PortOperationTotal counts port operations
	// Labels: operation (configure/start/stop/...), result (success/failure)
	PortOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPort,
			Name:      "operations_total",
			Help:      "Total number of port operations",
		},
		[]string{"operation", "result"},
	)

	// PortsAttached tracks the number of attached ports
	PortsAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPort,
			Name:      "attached",
			Help:      "Number of attached ports",
		},
	)

	// ---- Hot-plug Metrics ----

	// HotplugOperationTotal counts attach and detach requests
	// Labels: operation (attach/detach), result (success/failure)
	HotplugOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemHotplug,
			Name:      "operations_total",
			Help:      "Total number of hot-plug operations",
		},
		[]string{"operation", "result"},
	)

	// ---- Callback Metrics ----

	// EventCallbacksDispatched counts event callback invocations
	// Labels: event (lsc/intr/reset/unknown)
	EventCallbacksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCallback,
			Name:      "dispatched_total",
			Help:      "Total number of event callback invocations",
		},
		[]string{"event"},
	)

	// EventCallbackUnregisterRetries counts unregister calls that found an
	// active callback and asked the caller to retry
	EventCallbackUnregisterRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCallback,
			Name:      "unregister_retries_total",
			Help:      "Total number of event callback unregistrations that returned try-again",
		},
	)

	// ---- Port Event Metrics ----

	// PortEventsTotal counts recorded port lifecycle events
	// Labels: type (Normal/Warning), reason (PortAttached/LinkDown/...)
	PortEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemEvents,
			Name:      "recorded_total",
			Help:      "Total number of recorded port events",
		},
		[]string{"type", "reason"},
	)
)

// Register registers all metrics with reg.
// This function is safe to call multiple times; metrics will only be registered once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		// Port metrics
		reg.MustRegister(PortOperationDuration)
		reg.MustRegister(PortOperationTotal)
		reg.MustRegister(PortsAttached)

		// Hot-plug metrics
		reg.MustRegister(HotplugOperationTotal)

		// Callback metrics
		reg.MustRegister(EventCallbacksDispatched)
		reg.MustRegister(EventCallbackUnregisterRetries)

		// Port event metrics
		reg.MustRegister(PortEventsTotal)
	})
}
