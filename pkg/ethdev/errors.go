package ethdev

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package wraps exactly one
// of these; test with errors.Is or the Is* helpers.
var (
	ErrInvalidPort      = errors.New("invalid port")
	ErrNotSupported     = errors.New("operation not supported by driver")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrBusy             = errors.New("device is started")
	ErrNoMemory         = errors.New("out of memory")
	ErrNoFreeSlots      = errors.New("no free port slots")
	ErrDuplicateName    = errors.New("device name already attached")
	ErrValidation       = errors.New("configuration validation failed")
	ErrNoSuchDevice     = errors.New("no such device")
	ErrAmbiguousChange  = errors.New("more than one port changed")
	ErrAddressInUse     = errors.New("address in use")
	ErrTryAgain         = errors.New("callback is active, try again")
	ErrSecondaryProcess = errors.New("operation allowed in primary process only")
	ErrNoSpace          = errors.New("no space left in table")
	ErrNotStarted       = errors.New("device is not started")
	ErrClosed           = errors.New("device is closed")
	ErrFeatureDisabled  = errors.New("feature disabled in device configuration")
)

// PortError carries the port and operation an error came from
type PortError struct {
	// Port is the port the operation targeted
	Port PortID

	// Op is the operation name, e.g. "configure"
	Op string

	// Err is the error category or the driver's error
	Err error

	// Detail provides additional context
	Detail string
}

func (e *PortError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("port %d: %s: %v (%s)", e.Port, e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("port %d: %s: %v", e.Port, e.Op, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// ValidationError describes a rejected multi-queue configuration
type ValidationError struct {
	// Port is the port being configured
	Port PortID

	// Field is the configuration field that failed validation
	Field string

	// Value is the rejected value
	Value interface{}

	// Message describes the constraint
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("port %d: validation failed for %s=%v: %s", e.Port, e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// HotplugError wraps an attach or detach failure with the device identity
type HotplugError struct {
	// Op is "attach" or "detach"
	Op string

	// Device is the devargs string or device name
	Device string

	// Cause is the underlying error
	Cause error
}

func (e *HotplugError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Cause)
}

func (e *HotplugError) Unwrap() error {
	return e.Cause
}

func newPortError(port PortID, op string, err error, format string, args ...interface{}) *PortError {
	pe := &PortError{Port: port, Op: op, Err: err}
	if format != "" {
		pe.Detail = fmt.Sprintf(format, args...)
	}
	return pe
}

func newValidationError(port PortID, field string, value interface{}, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Port: port, Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidPort returns true if err wraps ErrInvalidPort
func IsInvalidPort(err error) bool {
	return errors.Is(err, ErrInvalidPort)
}

// IsNotSupported returns true if err wraps ErrNotSupported
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsInvalidArgument returns true if err wraps ErrInvalidArgument
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsBusy returns true if err wraps ErrBusy
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsTryAgain returns true if err wraps ErrTryAgain
func IsTryAgain(err error) bool {
	return errors.Is(err, ErrTryAgain)
}

// IsValidation returns true if err wraps ErrValidation
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
