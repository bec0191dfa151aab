package metrics

import (
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRetry   = "retry"
)

// Port operation constants
const (
	OpConfigure    = "configure"
	OpRxQueueSetup = "rx_queue_setup"
	OpTxQueueSetup = "tx_queue_setup"
	OpStart        = "start"
	OpStop         = "stop"
	OpClose        = "close"
	OpQueueStart   = "queue_start"
	OpQueueStop    = "queue_stop"
	OpStatsGet     = "stats_get"
	OpXStatsGet    = "xstats_get"
)

// Hot-plug operation constants
const (
	HotplugAttach = "attach"
	HotplugDetach = "detach"
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting from now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration returns the duration since the timer was created
func (t *Timer) ObserveDuration() time.Duration {
	return time.Since(t.start)
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordPortOperation records a port operation metric
//
// Parameters:
//   - operation: The port operation (configure/start/stop/...)
//   - err: The error from the operation (nil for success)
//   - duration: The duration of the operation
func RecordPortOperation(operation string, err error, duration time.Duration) {
	result := resultOf(err)
	PortOperationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	PortOperationTotal.WithLabelValues(operation, result).Inc()
}

// RecordHotplug records an attach or detach result
func RecordHotplug(operation string, err error) {
	HotplugOperationTotal.WithLabelValues(operation, resultOf(err)).Inc()
}

// SetPortsAttached sets the attached port gauge
func SetPortsAttached(n int) {
	PortsAttached.Set(float64(n))
}

// RecordCallbackDispatch records one event callback invocation
func RecordCallbackDispatch(event string) {
	EventCallbacksDispatched.WithLabelValues(event).Inc()
}

// RecordCallbackUnregisterRetry records an unregister that hit an active callback
func RecordCallbackUnregisterRetry() {
	EventCallbackUnregisterRetries.Inc()
}

// RecordPortEvent records one port lifecycle event
func RecordPortEvent(eventType, reason string) {
	PortEventsTotal.WithLabelValues(eventType, reason).Inc()
}
