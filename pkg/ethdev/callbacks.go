package ethdev

import (
	"reflect"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
)

// EventType is an asynchronous device event
type EventType int

const (
	EventUnknown EventType = iota
	EventLinkStateChange
	EventInterrupt
	EventReset
)

func (e EventType) String() string {
	switch e {
	case EventLinkStateChange:
		return "lsc"
	case EventInterrupt:
		return "intr"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// EventCallbackFunc is invoked for a device event. It runs without any
// registry lock held and may call back into the registry.
type EventCallbackFunc func(port PortID, event EventType, arg interface{})

// CallbackState is the invocation state of an event callback record
type CallbackState int

const (
	// CallbackIdle means no invocation is in progress; the record may be
	// removed
	CallbackIdle CallbackState = iota

	// CallbackActive means at least one invocation is in progress
	CallbackActive
)

type anyArg struct{}

// AnyArg passed to UnregisterEventCallback matches every registered argument
var AnyArg interface{} = &anyArg{}

// eventCallback is one registration. Fields after event are guarded by
// Registry.cbMu.
type eventCallback struct {
	fn    EventCallbackFunc
	fnID  uintptr
	arg   interface{}
	event EventType

	state  CallbackState
	active int
}

// callbackID identifies a callback by its code address, so two closures of
// the same function literal are the same callback
func callbackID(fn EventCallbackFunc) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// sameArg compares callback arguments without panicking on uncomparable
// values. Maps, slices and funcs compare by identity.
func sameArg(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	switch ta.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

// RegisterEventCallback appends fn to the port's callback list for event.
// Registering the same (fn, arg, event) again is a no-op.
//
// A function is identified by its code, not by its captured variables:
// two closures built from one function literal with equal arg count as the
// same callback, so only the first registration is kept. Use arg, or a
// distinct function, to tell such callbacks apart.
func (r *Registry) RegisterEventCallback(port PortID, event EventType, fn EventCallbackFunc, arg interface{}) error {
	const op = "callback_register"
	if fn == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil callback")
	}
	if arg == AnyArg {
		return newPortError(port, op, ErrInvalidArgument, "wildcard argument cannot be registered")
	}
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	id := callbackID(fn)

	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	for e := dev.callbacks.Front(); e != nil; e = e.Next() {
		cb := e.Value.(*eventCallback)
		if cb.fnID == id && cb.event == event && sameArg(cb.arg, arg) {
			return nil
		}
	}
	dev.callbacks.PushBack(&eventCallback{fn: fn, fnID: id, arg: arg, event: event})
	klog.V(4).Infof("Port %d registered %s callback", port, event)
	return nil
}

// UnregisterEventCallback removes the matching idle records. arg AnyArg
// matches any argument. If a matching record is mid-invocation it stays in
// the list and ErrTryAgain is returned; the caller retries later.
func (r *Registry) UnregisterEventCallback(port PortID, event EventType, fn EventCallbackFunc, arg interface{}) error {
	const op = "callback_unregister"
	if fn == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil callback")
	}
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	id := callbackID(fn)

	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	var ret error
	for e := dev.callbacks.Front(); e != nil; {
		next := e.Next()
		cb := e.Value.(*eventCallback)
		if cb.fnID == id && cb.event == event && (arg == AnyArg || sameArg(cb.arg, arg)) {
			if cb.state == CallbackIdle {
				dev.callbacks.Remove(e)
			} else {
				ret = newPortError(port, op, ErrTryAgain, "")
			}
		}
		e = next
	}
	if ret != nil {
		metrics.RecordCallbackUnregisterRetry()
	}
	return ret
}

// ProcessEvent invokes every callback registered for event, in registration
// order. The callback lock is dropped around each invocation.
func (r *Registry) ProcessEvent(port PortID, event EventType) error {
	dev, err := r.device(port, "process_event")
	if err != nil {
		return err
	}

	r.cbMu.Lock()
	for e := dev.callbacks.Front(); e != nil; e = e.Next() {
		cb := e.Value.(*eventCallback)
		if cb.event != event {
			continue
		}
		cb.active++
		cb.state = CallbackActive
		fn, arg := cb.fn, cb.arg

		r.cbMu.Unlock()
		fn(port, event, arg)
		metrics.RecordCallbackDispatch(event.String())
		r.cbMu.Lock()

		cb.active--
		if cb.active == 0 {
			cb.state = CallbackIdle
		}
	}
	r.cbMu.Unlock()
	return nil
}

// EventCallbackCount returns the number of records registered for event
func (r *Registry) EventCallbackCount(port PortID, event EventType) int {
	dev, err := r.device(port, "callback_count")
	if err != nil {
		return 0
	}
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	n := 0
	for e := dev.callbacks.Front(); e != nil; e = e.Next() {
		if e.Value.(*eventCallback).event == event {
			n++
		}
	}
	return n
}
