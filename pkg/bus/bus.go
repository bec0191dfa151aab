package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when no device matches an address or name
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoDriver is returned when no registered driver matches a device
	ErrNoDriver = errors.New("no matching driver")

	// ErrDeviceExists is returned when a virtual device name is taken
	ErrDeviceExists = errors.New("device already exists")

	// ErrNotBound is returned when detaching a device no driver owns
	ErrNotBound = errors.New("device not bound to a driver")
)

// DeviceKind distinguishes physical from virtual devices
type DeviceKind int

const (
	KindPCI DeviceKind = iota
	KindVirtual
)

func (k DeviceKind) String() string {
	if k == KindVirtual {
		return "virtual"
	}
	return "pci"
}

// Device is a device known to a bus
type Device struct {
	// Kind is physical (PCI) or virtual
	Kind DeviceKind

	// Name is the PCI address string or the virtual device name
	Name string

	// Addr is the PCI address; zero for virtual devices
	Addr PCIAddress

	// ID is the PCI vendor/device id used for driver matching
	ID PCIID

	// Kdrv is the kernel binding of a PCI device
	Kdrv KernelDriver

	// NumaNode is the NUMA socket the device is attached to, -1 if unknown
	NumaNode int

	// MaxVFs is the number of SR-IOV virtual functions enabled on the device
	MaxVFs uint16

	// Args is the virtual device argument string
	Args string

	// Driver is the driver bound to the device, nil when unbound
	Driver *Driver
}

// Driver is a bus-level driver registration
type Driver struct {
	// Name is the driver name; for virtual drivers it is also the device
	// name prefix the driver claims
	Name string

	// Kind selects the bus the driver attaches to
	Kind DeviceKind

	// IDTable lists the PCI ids a physical driver matches
	IDTable []PCIID

	// Probe initializes a matched device
	Probe func(dev *Device) error

	// Remove tears a bound device down
	Remove func(dev *Device) error
}

// Matches reports whether the driver claims the device
func (d *Driver) Matches(dev *Device) bool {
	if d.Kind != dev.Kind {
		return false
	}
	if dev.Kind == KindVirtual {
		return len(dev.Name) >= len(d.Name) && dev.Name[:len(d.Name)] == d.Name
	}
	for _, id := range d.IDTable {
		if id == dev.ID {
			return true
		}
	}
	return false
}

// Bus is the probe/remove surface the ethdev registry drives
type Bus interface {
	// RegisterDriver adds a driver to the bus
	RegisterDriver(drv *Driver) error

	// Scan refreshes the list of physical devices
	Scan() error

	// ProbeOne binds the physical device at addr to its matching driver
	ProbeOne(addr PCIAddress) error

	// Detach unbinds the physical device at addr and forgets it until the
	// next Scan
	Detach(addr PCIAddress) error

	// VdevInit creates and probes a virtual device
	VdevInit(name, args string) error

	// VdevUninit removes a virtual device
	VdevUninit(name string) error
}

// IdentityProber is implemented by buses that can report which device a
// probe bound, letting callers skip snapshot diffing.
type IdentityProber interface {
	ProbeOneDevice(addr PCIAddress) (*Device, error)
	VdevInitDevice(name, args string) (*Device, error)
}

// DeviceError wraps a bus failure with the device identity
type DeviceError struct {
	Device string
	Op     string
	Cause  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Cause)
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}
