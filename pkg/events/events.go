// Package events records port lifecycle events for zstack-ethdev.
//
// Events mark operations an operator cares about: a port attached, a
// configure that failed, a link that went down. Each event is logged with
// the port's structured fields, counted in Prometheus by type and reason,
// and kept in a bounded in-memory history.
//
// Event Types:
// - Normal: Routine operations (e.g., port started)
// - Warning: Potential issues or errors (e.g., attach failed, link down)
//
// Usage:
//
//	recorder := events.NewRecorder("zstack-ethdev", events.DefaultHistory)
//	recorder.PortAttached(events.Source{Port: 0, Device: "net_ring0"}, "net_ring0")
//	recorder.LinkChanged(src, "10 Gbps full-duplex", true)
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/jiayi-1994/zstack-ethdev/pkg/logging"
	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
)

// Event types
const (
	TypeNormal  = "Normal"
	TypeWarning = "Warning"
)

// Event reason constants
const (
	// Hot-plug events
	ReasonPortAttached = "PortAttached"
	ReasonAttachFailed = "AttachFailed"
	ReasonPortDetached = "PortDetached"
	ReasonDetachFailed = "DetachFailed"

	// Lifecycle events
	ReasonPortConfigured  = "PortConfigured"
	ReasonConfigureFailed = "ConfigureFailed"
	ReasonPortStarted     = "PortStarted"
	ReasonStartFailed     = "StartFailed"
	ReasonPortStopped     = "PortStopped"

	// Link events
	ReasonLinkUp          = "LinkUp"
	ReasonLinkDown        = "LinkDown"
	ReasonLinkWaitTimeout = "LinkWaitTimeout"
)

// DefaultHistory is the number of events a recorder keeps by default
const DefaultHistory = 256

// Source identifies the port an event is about. Port is meaningless when
// Device holds devargs that never attached.
type Source struct {
	Port   uint16
	Device string
}

// Event is one recorded event
type Event struct {
	Source  Source
	Type    string
	Reason  string
	Message string
	Time    time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s port=%d device=%s: %s", e.Type, e.Reason, e.Source.Port, e.Source.Device, e.Message)
}

// Recorder records port events
type Recorder struct {
	// component is the component name for events
	component string

	mu      sync.Mutex
	history []Event
	next    int
	full    bool
}

// NewRecorder creates a new event recorder
//
// Parameters:
//   - component: Component name (e.g., "zstack-ethdev")
//   - history: Number of recent events to keep; at least 1
//
// Returns:
//   - *Recorder: Event recorder instance
func NewRecorder(component string, history int) *Recorder {
	if history < 1 {
		history = 1
	}
	return &Recorder{
		component: component,
		history:   make([]Event, history),
	}
}

// Recent returns the kept events, oldest first
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]Event(nil), r.history[:r.next]...)
	}
	out := make([]Event, 0, len(r.history))
	out = append(out, r.history[r.next:]...)
	return append(out, r.history[:r.next]...)
}

// ---- Hot-plug Events ----

// PortAttached records a successful attach
func (r *Recorder) PortAttached(src Source, devargs string) {
	r.Eventf(src, TypeNormal, ReasonPortAttached, "Attached from %s", devargs)
}

// AttachFailed records an attach failure
func (r *Recorder) AttachFailed(devargs string, err error) {
	r.Eventf(Source{Device: devargs}, TypeWarning, ReasonAttachFailed, "Failed to attach: %v", err)
}

// PortDetached records a successful detach
func (r *Recorder) PortDetached(src Source) {
	r.Event(src, TypeNormal, ReasonPortDetached, "Port detached")
}

// DetachFailed records a detach failure
func (r *Recorder) DetachFailed(src Source, err error) {
	r.Eventf(src, TypeWarning, ReasonDetachFailed, "Failed to detach: %v", err)
}

// ---- Lifecycle Events ----

// PortConfigured records a completed configure and queue setup
func (r *Recorder) PortConfigured(src Source, rxQueues, txQueues uint16) {
	r.Eventf(src, TypeNormal, ReasonPortConfigured, "Configured: rxQueues=%d, txQueues=%d", rxQueues, txQueues)
}

// ConfigureFailed records a configure or queue setup failure
func (r *Recorder) ConfigureFailed(src Source, err error) {
	r.Eventf(src, TypeWarning, ReasonConfigureFailed, "Failed to configure: %v", err)
}

// PortStarted records a successful start
func (r *Recorder) PortStarted(src Source, mac string) {
	r.Eventf(src, TypeNormal, ReasonPortStarted, "Started: MAC=%s", mac)
}

// StartFailed records a start failure
func (r *Recorder) StartFailed(src Source, err error) {
	r.Eventf(src, TypeWarning, ReasonStartFailed, "Failed to start: %v", err)
}

// PortStopped records a stop
func (r *Recorder) PortStopped(src Source) {
	r.Event(src, TypeNormal, ReasonPortStopped, "Port stopped")
}

// ---- Link Events ----

// LinkChanged records a link state change. A down link is a warning.
func (r *Recorder) LinkChanged(src Source, link string, up bool) {
	if up {
		r.Eventf(src, TypeNormal, ReasonLinkUp, "Link up: %s", link)
		return
	}
	r.Event(src, TypeWarning, ReasonLinkDown, "Link down")
}

// LinkWaitTimeout records a link that did not come up in time
func (r *Recorder) LinkWaitTimeout(src Source, timeout time.Duration) {
	r.Eventf(src, TypeWarning, ReasonLinkWaitTimeout, "Link still down after %s", timeout)
}

// ---- Generic Events ----

// Event records a generic event
func (r *Recorder) Event(src Source, eventType, reason, message string) {
	e := Event{Source: src, Type: eventType, Reason: reason, Message: message, Time: time.Now()}

	r.mu.Lock()
	r.history[r.next] = e
	r.next++
	if r.next == len(r.history) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()

	metrics.RecordPortEvent(eventType, reason)

	log := logging.LoggerForPort(src.Port, src.Device).WithValues("component", r.component, "reason", reason)
	if eventType == TypeWarning {
		log.Warn(message)
		return
	}
	log.Info(message)
}

// Eventf records a generic formatted event
func (r *Recorder) Eventf(src Source, eventType, reason, format string, args ...interface{}) {
	r.Event(src, eventType, reason, fmt.Sprintf(format, args...))
}
