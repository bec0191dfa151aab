// Package bus provides the device discovery seam of the ethdev layer.
//
// This package handles:
//   - PCI address parsing and formatting (domain:bus:device.function)
//   - Virtual device argument strings ("name,key=value,...")
//   - Kernel binding kinds of physical devices
//   - The Bus interface the ethdev registry drives during hot-plug, and an
//     in-memory implementation of it
//
// Bus enumeration itself is out of scope: MemoryBus holds whatever devices
// its owner plugs into it.
package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// PCIAddress identifies a PCI function
type PCIAddress struct {
	Domain   uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

// AddressError describes a malformed device identity string
type AddressError struct {
	Input  string
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid device address %q: %s", e.Input, e.Reason)
}

// ParsePCIAddress parses the "DDDD:BB:DD.F" form (hex domain, bus and
// device, decimal function).
func ParsePCIAddress(s string) (PCIAddress, error) {
	var addr PCIAddress

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return addr, &AddressError{Input: s, Reason: "expected domain:bus:device.function"}
	}
	devFn := strings.Split(parts[2], ".")
	if len(devFn) != 2 {
		return addr, &AddressError{Input: s, Reason: "missing function"}
	}

	domain, err := parseHexField(parts[0], 4, 0xffff)
	if err != nil {
		return addr, &AddressError{Input: s, Reason: "domain: " + err.Error()}
	}
	bus, err := parseHexField(parts[1], 2, 0xff)
	if err != nil {
		return addr, &AddressError{Input: s, Reason: "bus: " + err.Error()}
	}
	dev, err := parseHexField(devFn[0], 2, 0x1f)
	if err != nil {
		return addr, &AddressError{Input: s, Reason: "device: " + err.Error()}
	}
	fn, err := strconv.ParseUint(devFn[1], 10, 8)
	if err != nil || fn > 7 || len(devFn[1]) != 1 {
		return addr, &AddressError{Input: s, Reason: "function must be 0-7"}
	}

	addr.Domain = uint16(domain)
	addr.Bus = uint8(bus)
	addr.Device = uint8(dev)
	addr.Function = uint8(fn)
	return addr, nil
}

func parseHexField(s string, maxDigits int, max uint64) (uint64, error) {
	if s == "" || len(s) > maxDigits {
		return 0, fmt.Errorf("expected 1-%d hex digits", maxDigits)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("not hexadecimal")
	}
	if v > max {
		return 0, fmt.Errorf("%#x exceeds %#x", v, max)
	}
	return v, nil
}

// String formats the address as "%04x:%02x:%02x.%d"
func (a PCIAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%d", a.Domain, a.Bus, a.Device, a.Function)
}

// IsZero returns true for 0000:00:00.0
func (a PCIAddress) IsZero() bool {
	return a == PCIAddress{}
}

// IsPCIAddress reports whether s parses as a PCI address
func IsPCIAddress(s string) bool {
	_, err := ParsePCIAddress(s)
	return err == nil
}

// PCIID is a vendor/device id pair used to match drivers
type PCIID struct {
	VendorID uint16
	DeviceID uint16
}

// KernelDriver is the kernel module a PCI function is bound to
type KernelDriver int

const (
	KdrvUnknown KernelDriver = iota
	KdrvIgbUIO
	KdrvVFIO
	KdrvUIOGeneric
	KdrvNICUIO
	KdrvNone
)

var kdrvNames = map[KernelDriver]string{
	KdrvUnknown:    "unknown",
	KdrvIgbUIO:     "igb_uio",
	KdrvVFIO:       "vfio-pci",
	KdrvUIOGeneric: "uio_pci_generic",
	KdrvNICUIO:     "nic_uio",
	KdrvNone:       "none",
}

func (k KernelDriver) String() string {
	if name, ok := kdrvNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KernelDriver(%d)", int(k))
}

// ParseKernelDriver parses a kernel module name
func ParseKernelDriver(s string) (KernelDriver, error) {
	for k, name := range kdrvNames {
		if name == s {
			return k, nil
		}
	}
	return KdrvUnknown, fmt.Errorf("unknown kernel driver %q", s)
}

// SupportsHotplug returns true for UIO bindings, the only ones a device can
// be detached from at runtime.
func (k KernelDriver) SupportsHotplug() bool {
	switch k {
	case KdrvIgbUIO, KdrvUIOGeneric, KdrvNICUIO:
		return true
	default:
		return false
	}
}
