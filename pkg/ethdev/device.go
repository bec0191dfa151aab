package ethdev

import (
	"container/list"
	"sync/atomic"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// Device is the process-local handle of a port. The shared state lives in
// the DevData block it points to.
type Device struct {
	port     PortID
	registry *Registry

	// attached is guarded by registry.mu
	attached bool

	devType DeviceType
	busDev  *bus.Device
	driver  *Driver
	ops     interface{}
	data    *DevData

	private      interface{}
	privateBytes int64

	// callbacks holds *eventCallback records, guarded by registry.cbMu
	callbacks *list.List

	rxBurst RxBurstFunc
	txBurst TxBurstFunc

	// postRx and preTx are per-queue burst callback chain heads
	postRx []atomic.Pointer[RxCallback]
	preTx  []atomic.Pointer[TxCallback]
}

func newDevice(r *Registry, port PortID, t DeviceType, data *DevData) *Device {
	return &Device{
		port:      port,
		registry:  r,
		attached:  true,
		devType:   t,
		data:      data,
		callbacks: list.New(),
		postRx:    make([]atomic.Pointer[RxCallback], types.MaxQueuesPerPort),
		preTx:     make([]atomic.Pointer[TxCallback], types.MaxQueuesPerPort),
	}
}

// Port returns the port id
func (d *Device) Port() PortID {
	return d.port
}

// Name returns the device name
func (d *Device) Name() string {
	return d.data.Name
}

// Data returns the shared data block
func (d *Device) Data() *DevData {
	return d.data
}

// Type returns whether the device is physical or virtual
func (d *Device) Type() DeviceType {
	return d.devType
}

// BusDevice returns the bus device the port was probed from, if any
func (d *Device) BusDevice() *bus.Device {
	return d.busDev
}

// Driver returns the ethdev driver bound to the port, if any
func (d *Device) Driver() *Driver {
	return d.driver
}

// Registry returns the registry owning the port
func (d *Device) Registry() *Registry {
	return d.registry
}

// SetOps installs the driver capability set
func (d *Device) SetOps(ops interface{}) {
	d.ops = ops
}

// Ops returns the driver capability set
func (d *Device) Ops() interface{} {
	return d.ops
}

// Supports reports whether the driver implements capability c
func (d *Device) Supports(c Capability) bool {
	return supports(d.ops, c)
}

// SetBurstFuncs installs the driver's receive and transmit burst functions
func (d *Device) SetBurstFuncs(rx RxBurstFunc, tx TxBurstFunc) {
	d.rxBurst = rx
	d.txBurst = tx
}

// SetPrivate stores driver private state
func (d *Device) SetPrivate(p interface{}) {
	d.private = p
}

// Private returns driver private state
func (d *Device) Private() interface{} {
	return d.private
}

// flags returns the driver flags, zero for ports allocated without a driver
func (d *Device) flags() DriverFlags {
	if d.driver == nil {
		return 0
	}
	return d.driver.Flags
}

// socketID returns the NUMA node of the bus device or -1
func (d *Device) socketID() int {
	if d.busDev == nil {
		return -1
	}
	return d.busDev.NumaNode
}
