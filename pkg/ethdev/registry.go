// Package ethdev is the generic Ethernet device layer.
//
// A Registry owns a fixed number of port slots. Drivers register with
// RegisterDriver; a bus probe of a matching device allocates a slot, sets up
// the port's shared DevData block and calls the driver's Init, which installs
// the driver's capability set with Device.SetOps. Applications then drive the
// port through the Registry: Configure, RxQueueSetup/TxQueueSetup, Start,
// Stop, Close, statistics and control operations. Every port operation first
// checks that the port id names an attached slot.
//
// Configuration-mutating operations are primary-process only and are not
// serialized per port; concurrent reconfiguration of the same port is the
// caller's responsibility. Event callback lists share one registry-wide lock
// that is never held while a callback runs.
package ethdev

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/allocator"
	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// Option configures a Registry
type Option func(*Registry)

// WithMaxPorts overrides the slot capacity
func WithMaxPorts(n int) Option {
	return func(r *Registry) {
		if n > 0 && n <= types.MaxPorts {
			r.maxPorts = n
		}
	}
}

// Registry is the process-wide port table
type Registry struct {
	env      *eal.EAL
	bus      bus.Bus
	maxPorts int

	// mu protects attached, devices and region
	mu       sync.Mutex
	attached *allocator.Bitmap
	devices  []*Device
	region   []*DevData

	// live mirrors devices for the data path, which must not take mu
	live []atomic.Pointer[Device]

	// cbMu guards every device's event callback list
	cbMu sync.Mutex

	// burstMu serializes burst callback chain mutation
	burstMu sync.Mutex
}

// NewRegistry creates a registry on top of an initialized EAL and a bus
//
// Parameters:
//   - env: Environment providing process role, memzones and heap
//   - b: Bus used for driver registration and hot-plug; may be nil when
//     ports are only allocated directly
//   - opts: Registry options
//
// Returns:
//   - *Registry: Registry instance
func NewRegistry(env *eal.EAL, b bus.Bus, opts ...Option) *Registry {
	if env == nil {
		env = eal.New(nil)
	}
	r := &Registry{
		env:      env,
		bus:      b,
		maxPorts: types.MaxPorts,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.attached = allocator.NewBitmap(r.maxPorts)
	r.devices = make([]*Device, r.maxPorts)
	r.live = make([]atomic.Pointer[Device], r.maxPorts)
	return r
}

// EAL returns the environment the registry runs in
func (r *Registry) EAL() *eal.EAL {
	return r.env
}

// MaxPorts returns the slot capacity
func (r *Registry) MaxPorts() int {
	return r.maxPorts
}

// dataRegionLocked returns the shared block table, reserving it in the
// primary or attaching to it in a secondary. The registry cannot work
// without it, so failure panics. Caller must hold r.mu.
func (r *Registry) dataRegionLocked() []*DevData {
	if r.region != nil {
		return r.region
	}
	mz, err := r.env.ReserveOrLookup(types.EthdevDataMemzone, devDataRegionSize(r.maxPorts), func() any {
		return make([]*DevData, r.maxPorts)
	})
	if err != nil {
		panic(fmt.Sprintf("cannot obtain memzone %s for port data: %v", types.EthdevDataMemzone, err))
	}
	region, ok := mz.Data.([]*DevData)
	if !ok || len(region) < r.maxPorts {
		panic(fmt.Sprintf("memzone %s holds incompatible port data", types.EthdevDataMemzone))
	}
	r.region = region
	return r.region
}

func (r *Registry) findAttachedLocked(name string) *Device {
	for _, dev := range r.devices {
		if dev != nil && dev.attached && dev.data.Name == name {
			return dev
		}
	}
	return nil
}

// Allocate reserves a slot for a device. The primary process takes the
// first free slot and starts a zeroed data block; a secondary process
// attaches to the slot whose block the primary published under name.
//
// Returns:
//   - *Device: Attached device handle
//   - error: ErrNoFreeSlots, ErrDuplicateName, or ErrNoSuchDevice in a
//     secondary when the primary has no such device
func (r *Registry) Allocate(name string, t DeviceType) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	region := r.dataRegionLocked()

	if !r.env.IsPrimary() {
		return r.allocateSecondaryLocked(region, name, t)
	}

	if r.attached.Available() == 0 {
		return nil, fmt.Errorf("allocate %q: %w", name, ErrNoFreeSlots)
	}
	if r.findAttachedLocked(name) != nil {
		return nil, fmt.Errorf("allocate %q: %w", name, ErrDuplicateName)
	}
	idx, err := r.attached.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocate %q: %w: %v", name, ErrNoFreeSlots, err)
	}

	data := &DevData{Name: name, PortID: PortID(idx)}
	region[idx] = data
	dev := newDevice(r, PortID(idx), t, data)
	r.devices[idx] = dev
	r.live[idx].Store(dev)
	metrics.SetPortsAttached(r.attached.Allocated())

	klog.V(4).Infof("Allocated port %d for %s (%s)", idx, name, t)
	return dev, nil
}

func (r *Registry) allocateSecondaryLocked(region []*DevData, name string, t DeviceType) (*Device, error) {
	if r.findAttachedLocked(name) != nil {
		return nil, fmt.Errorf("allocate %q: %w", name, ErrDuplicateName)
	}
	for idx := 0; idx < r.maxPorts; idx++ {
		data := region[idx]
		if data == nil || data.Name != name {
			continue
		}
		if err := r.attached.Set(idx); err != nil {
			return nil, fmt.Errorf("allocate %q: %w", name, err)
		}
		dev := newDevice(r, PortID(idx), t, data)
		r.devices[idx] = dev
		r.live[idx].Store(dev)
		klog.V(4).Infof("Attached secondary port %d to %s", idx, name)
		return dev, nil
	}
	return nil, fmt.Errorf("allocate %q: %w", name, ErrNoSuchDevice)
}

// Lookup returns the attached device with the given name
func (r *Registry) Lookup(name string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dev := r.findAttachedLocked(name); dev != nil {
		return dev, nil
	}
	return nil, fmt.Errorf("lookup %q: %w", name, ErrNoSuchDevice)
}

// Release detaches a slot. The data block is left as is and replaced on the
// next allocation into the slot.
func (r *Registry) Release(dev *Device) error {
	if dev == nil {
		return fmt.Errorf("release: %w", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !dev.attached || r.devices[dev.port] != dev {
		return newPortError(dev.port, "release", ErrInvalidPort, "not attached")
	}
	if err := r.attached.Clear(int(dev.port)); err != nil {
		return newPortError(dev.port, "release", ErrInvalidPort, "%v", err)
	}
	dev.attached = false
	r.devices[dev.port] = nil
	r.live[dev.port].Store(nil)
	if r.env.IsPrimary() {
		metrics.SetPortsAttached(r.attached.Allocated())
	}

	klog.V(4).Infof("Released port %d (%s)", dev.port, dev.data.Name)
	return nil
}

// IsValid reports whether port names an attached slot
func (r *Registry) IsValid(port PortID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(port) < r.maxPorts && r.devices[port] != nil
}

// liveDevice returns the attached device without taking the registry lock,
// nil for an invalid port
func (r *Registry) liveDevice(port PortID) *Device {
	if int(port) >= len(r.live) {
		return nil
	}
	return r.live[port].Load()
}

// device returns the attached device or an ErrInvalidPort error tagged with op
func (r *Registry) device(port PortID, op string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(port) >= r.maxPorts || r.devices[port] == nil {
		return nil, newPortError(port, op, ErrInvalidPort, "")
	}
	return r.devices[port], nil
}

// Device returns the handle of an attached port
func (r *Registry) Device(port PortID) (*Device, error) {
	return r.device(port, "device")
}

// Count returns the number of attached ports
func (r *Registry) Count() int {
	return r.attached.Allocated()
}

// Ports returns the attached port ids in ascending order
func (r *Registry) Ports() []PortID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports := make([]PortID, 0, r.attached.Allocated())
	for i, dev := range r.devices {
		if dev != nil {
			ports = append(ports, PortID(i))
		}
	}
	return ports
}

// Name returns the device name of a port
func (r *Registry) Name(port PortID) (string, error) {
	dev, err := r.device(port, "name")
	if err != nil {
		return "", err
	}
	return dev.data.Name, nil
}

// PortByName returns the port id of an attached device
func (r *Registry) PortByName(name string) (PortID, error) {
	dev, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	return dev.port, nil
}

// SocketID returns the NUMA socket of a port, or -1 when the port is
// invalid or the socket is unknown
func (r *Registry) SocketID(port PortID) int {
	dev, err := r.device(port, "socket_id")
	if err != nil {
		return -1
	}
	return dev.socketID()
}

// DeviceType returns the device type of a port
func (r *Registry) DeviceType(port PortID) DeviceType {
	dev, err := r.device(port, "device_type")
	if err != nil {
		return DeviceTypeUnknown
	}
	return dev.devType
}

// Supports reports whether the driver of port implements capability c
func (r *Registry) Supports(port PortID, c Capability) bool {
	dev, err := r.device(port, "supports")
	if err != nil {
		return false
	}
	return dev.Supports(c)
}

// Snapshot copies the attached flags of every slot
func (r *Registry) Snapshot() allocator.Snapshot {
	return r.attached.Snapshot()
}

// RegisterDriver wires an ethdev driver into the bus
func (r *Registry) RegisterDriver(drv *Driver) error {
	if drv == nil || drv.Name == "" {
		return fmt.Errorf("register driver: %w", ErrInvalidArgument)
	}
	if r.bus == nil {
		return fmt.Errorf("register driver %s: no bus: %w", drv.Name, ErrNotSupported)
	}
	busDrv := &bus.Driver{
		Name:    drv.Name,
		Kind:    drv.Kind,
		IDTable: drv.IDTable,
		Probe: func(bd *bus.Device) error {
			return r.devInit(drv, bd)
		},
		Remove: func(bd *bus.Device) error {
			return r.devUninit(drv, bd)
		},
	}
	if err := r.bus.RegisterDriver(busDrv); err != nil {
		return fmt.Errorf("register driver %s: %w", drv.Name, err)
	}
	klog.V(4).Infof("Registered ethdev driver %s (%s)", drv.Name, drv.Kind)
	return nil
}

// devInit is the generic per-device probe: allocate a slot, reserve driver
// private storage, then hand over to the driver.
func (r *Registry) devInit(drv *Driver, bd *bus.Device) error {
	t := DeviceTypeVirtual
	if bd.Kind == bus.KindPCI {
		t = DeviceTypePhysical
	}

	dev, err := r.Allocate(bd.Name, t)
	if err != nil {
		return err
	}
	dev.busDev = bd
	dev.driver = drv

	if r.env.IsPrimary() {
		if drv.PrivateSize > 0 {
			if err := r.env.Heap().Reserve(drv.PrivateSize); err != nil {
				_ = r.Release(dev)
				return newPortError(dev.port, "init", ErrNoMemory,
					"private storage of %d bytes: %v", drv.PrivateSize, err)
			}
			dev.privateBytes = drv.PrivateSize
		}
		dev.data.MTU = types.EtherMTU
		dev.data.state = PortUnconfigured
	}

	if drv.Init != nil {
		if err := drv.Init(dev); err != nil {
			klog.Errorf("Driver %s init failed for %s: %v", drv.Name, bd.Name, err)
			r.freeDeviceResources(dev)
			_ = r.Release(dev)
			return newPortError(dev.port, "init", err, "driver %s", drv.Name)
		}
	}

	klog.Infof("Port %d attached: %s (driver %s)", dev.port, bd.Name, drv.Name)
	return nil
}

// devUninit is the generic per-device remove
func (r *Registry) devUninit(drv *Driver, bd *bus.Device) error {
	dev, err := r.Lookup(bd.Name)
	if err != nil {
		return err
	}

	if drv.Uninit != nil {
		if err := drv.Uninit(dev); err != nil {
			return newPortError(dev.port, "uninit", err, "driver %s", drv.Name)
		}
	}

	r.freeDeviceResources(dev)
	if err := r.Release(dev); err != nil {
		return err
	}
	klog.Infof("Port %d detached: %s (driver %s)", dev.port, bd.Name, drv.Name)
	return nil
}

// freeDeviceResources returns private storage and queue array memory to the
// heap
func (r *Registry) freeDeviceResources(dev *Device) {
	if !r.env.IsPrimary() {
		return
	}
	if dev.privateBytes > 0 {
		r.env.Heap().Release(dev.privateBytes)
		dev.privateBytes = 0
	}
	if dev.data.queueBytes > 0 {
		r.env.Heap().Release(dev.data.queueBytes)
		dev.data.queueBytes = 0
	}
	dev.private = nil
}

// Teardown stops, closes and releases every attached port. Ports probed
// through the bus are removed through it so drivers see Uninit.
// Secondary processes only release their handles.
func (r *Registry) Teardown() error {
	var errs error
	for _, port := range r.Ports() {
		dev, err := r.device(port, "teardown")
		if err != nil {
			continue
		}
		if r.env.IsPrimary() && dev.data.state != PortClosed {
			if err := r.Stop(port); err != nil {
				errs = multierr.Append(errs, err)
			}
			if err := r.Close(port); err != nil && !IsNotSupported(err) {
				errs = multierr.Append(errs, err)
			}
		}
		if r.env.IsPrimary() && dev.driver != nil && dev.busDev != nil && r.bus != nil {
			errs = multierr.Append(errs, r.busRemove(dev))
			continue
		}
		r.freeDeviceResources(dev)
		errs = multierr.Append(errs, r.Release(dev))
	}
	return errs
}
