package bus

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"
)

// MemoryBus is a Bus whose devices are plugged in by its owner. Plugged PCI
// devices become visible after Scan, like a sysfs rescan.
type MemoryBus struct {
	mu sync.Mutex

	drivers []*Driver

	// plugged holds PCI devices present in the machine
	plugged map[PCIAddress]*Device

	// scanned holds PCI devices discovered by the last Scan
	scanned map[PCIAddress]*Device

	// vdevs holds live virtual devices by name
	vdevs map[string]*Device
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		plugged: make(map[PCIAddress]*Device),
		scanned: make(map[PCIAddress]*Device),
		vdevs:   make(map[string]*Device),
	}
}

// PlugPCI makes a physical device present. It is discovered by the next Scan.
func (b *MemoryBus) PlugPCI(addr PCIAddress, id PCIID, kdrv KernelDriver, numaNode int, maxVFs uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.plugged[addr] = &Device{
		Kind:     KindPCI,
		Name:     addr.String(),
		Addr:     addr,
		ID:       id,
		Kdrv:     kdrv,
		NumaNode: numaNode,
		MaxVFs:   maxVFs,
	}
	klog.V(4).Infof("Plugged PCI device %s (%04x:%04x, %s)", addr, id.VendorID, id.DeviceID, kdrv)
}

// RegisterDriver adds a driver to the bus
func (b *MemoryBus) RegisterDriver(drv *Driver) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range b.drivers {
		if d.Name == drv.Name {
			return &DeviceError{Device: drv.Name, Op: "register driver", Cause: ErrDeviceExists}
		}
	}
	b.drivers = append(b.drivers, drv)
	klog.V(4).Infof("Registered %s driver %s", drv.Kind, drv.Name)
	return nil
}

// Scan discovers every plugged PCI device
func (b *MemoryBus) Scan() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for addr, dev := range b.plugged {
		if _, ok := b.scanned[addr]; !ok {
			b.scanned[addr] = dev
		}
	}
	klog.V(4).Infof("PCI scan found %d devices", len(b.scanned))
	return nil
}

// ProbeOne binds the device at addr
func (b *MemoryBus) ProbeOne(addr PCIAddress) error {
	_, err := b.ProbeOneDevice(addr)
	return err
}

// ProbeOneDevice binds the device at addr and returns it
func (b *MemoryBus) ProbeOneDevice(addr PCIAddress) (*Device, error) {
	b.mu.Lock()
	dev, ok := b.scanned[addr]
	if !ok {
		b.mu.Unlock()
		return nil, &DeviceError{Device: addr.String(), Op: "probe", Cause: ErrDeviceNotFound}
	}
	if dev.Driver != nil {
		b.mu.Unlock()
		return dev, nil
	}
	drv := b.matchLocked(dev)
	b.mu.Unlock()

	if drv == nil {
		return nil, &DeviceError{Device: addr.String(), Op: "probe", Cause: ErrNoDriver}
	}

	// Probe runs unlocked: it calls back into the ethdev registry.
	if err := drv.Probe(dev); err != nil {
		return nil, &DeviceError{Device: addr.String(), Op: "probe", Cause: err}
	}

	b.mu.Lock()
	dev.Driver = drv
	b.mu.Unlock()
	klog.V(4).Infof("Bound %s to driver %s", addr, drv.Name)
	return dev, nil
}

// Detach unbinds the device at addr and drops it from the scanned list
func (b *MemoryBus) Detach(addr PCIAddress) error {
	b.mu.Lock()
	dev, ok := b.scanned[addr]
	b.mu.Unlock()
	if !ok {
		return &DeviceError{Device: addr.String(), Op: "detach", Cause: ErrDeviceNotFound}
	}
	if dev.Driver == nil {
		return &DeviceError{Device: addr.String(), Op: "detach", Cause: ErrNotBound}
	}

	if dev.Driver.Remove != nil {
		if err := dev.Driver.Remove(dev); err != nil {
			return &DeviceError{Device: addr.String(), Op: "detach", Cause: err}
		}
	}

	b.mu.Lock()
	dev.Driver = nil
	delete(b.scanned, addr)
	b.mu.Unlock()
	klog.V(4).Infof("Detached PCI device %s", addr)
	return nil
}

// VdevInit creates and probes a virtual device
func (b *MemoryBus) VdevInit(name, args string) error {
	_, err := b.VdevInitDevice(name, args)
	return err
}

// VdevInitDevice creates and probes a virtual device and returns it
func (b *MemoryBus) VdevInitDevice(name, args string) (*Device, error) {
	b.mu.Lock()
	if _, ok := b.vdevs[name]; ok {
		b.mu.Unlock()
		return nil, &DeviceError{Device: name, Op: "vdev init", Cause: ErrDeviceExists}
	}
	dev := &Device{Kind: KindVirtual, Name: name, Args: args, NumaNode: -1}
	drv := b.matchLocked(dev)
	b.mu.Unlock()

	if drv == nil {
		return nil, &DeviceError{Device: name, Op: "vdev init", Cause: ErrNoDriver}
	}
	if err := drv.Probe(dev); err != nil {
		return nil, &DeviceError{Device: name, Op: "vdev init", Cause: err}
	}

	b.mu.Lock()
	dev.Driver = drv
	b.vdevs[name] = dev
	b.mu.Unlock()
	klog.V(4).Infof("Created virtual device %s with driver %s", name, drv.Name)
	return dev, nil
}

// VdevUninit removes a virtual device
func (b *MemoryBus) VdevUninit(name string) error {
	b.mu.Lock()
	dev, ok := b.vdevs[name]
	b.mu.Unlock()
	if !ok {
		return &DeviceError{Device: name, Op: "vdev uninit", Cause: ErrDeviceNotFound}
	}

	if dev.Driver != nil && dev.Driver.Remove != nil {
		if err := dev.Driver.Remove(dev); err != nil {
			return &DeviceError{Device: name, Op: "vdev uninit", Cause: err}
		}
	}

	b.mu.Lock()
	delete(b.vdevs, name)
	b.mu.Unlock()
	klog.V(4).Infof("Removed virtual device %s", name)
	return nil
}

// Devices returns the names of every scanned or virtual device, sorted
func (b *MemoryBus) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.scanned)+len(b.vdevs))
	for _, dev := range b.scanned {
		names = append(names, dev.Name)
	}
	for name := range b.vdevs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// matchLocked picks the driver for dev. Virtual drivers with the longest
// matching name prefix win.
func (b *MemoryBus) matchLocked(dev *Device) *Driver {
	var best *Driver
	for _, drv := range b.drivers {
		if !drv.Matches(dev) {
			continue
		}
		if best == nil || (dev.Kind == KindVirtual && len(drv.Name) > len(best.Name)) {
			best = drv
		}
	}
	return best
}

var (
	_ Bus            = (*MemoryBus)(nil)
	_ IdentityProber = (*MemoryBus)(nil)
)
