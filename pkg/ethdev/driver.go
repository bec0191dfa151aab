package ethdev

import (
	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
)

// Driver is an ethdev driver registration. RegisterDriver wires Init and
// Uninit into the bus so a bus probe of a matching device runs the generic
// per-device initialization before handing the port to Init.
type Driver struct {
	// Name is the driver name; virtual drivers also claim devices whose name
	// starts with it
	Name string

	// Kind selects the PCI or virtual bus
	Kind bus.DeviceKind

	// IDTable lists the PCI ids a physical driver matches
	IDTable []bus.PCIID

	// Flags are static driver properties
	Flags DriverFlags

	// PrivateSize is the number of bytes of private storage reserved from
	// the EAL heap for each port
	PrivateSize int64

	// Init sets up a freshly allocated port. It must call Device.SetOps and
	// may allocate MAC tables with DevData.AllocMACAddrs.
	Init func(dev *Device) error

	// Uninit tears a port down before its slot is released
	Uninit func(dev *Device) error
}
