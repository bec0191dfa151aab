package ethdev

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/allocator"
	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
)

// ChangedPort returns the single port whose attached flag differs between
// before and the live table.
//
// The diff is only meaningful when nothing else attaches or detaches ports
// between the snapshot and this call; callers must serialize hot-plug
// themselves. Attach avoids the diff when the bus reports device identity.
//
// Returns:
//   - PortID: The changed port
//   - error: ErrNoSuchDevice if nothing changed, ErrAmbiguousChange if more
//     than one port changed
func (r *Registry) ChangedPort(before allocator.Snapshot) (PortID, error) {
	idx, err := r.attached.ChangedOne(before)
	if err != nil {
		var amb *allocator.AmbiguousChangeError
		if errors.As(err, &amb) {
			return 0, fmt.Errorf("%v: %w", err, ErrAmbiguousChange)
		}
		return 0, fmt.Errorf("%v: %w", err, ErrNoSuchDevice)
	}
	return PortID(idx), nil
}

// Attach probes a device and returns the port it was attached to.
//
// devargs in DDDD:BB:DD.F form attach a PCI device through bus rescan and
// probe. Anything else is a virtual device string "name[,key=value...]".
func (r *Registry) Attach(devargs string) (port PortID, err error) {
	defer func() {
		metrics.RecordHotplug(metrics.HotplugAttach, err)
		if err != nil {
			klog.Errorf("Cannot attach device %q: %v", devargs, err)
		}
	}()

	if devargs == "" {
		return 0, &HotplugError{Op: "attach", Device: devargs, Cause: ErrInvalidArgument}
	}
	if err := r.primaryOnly(0, "attach"); err != nil {
		return 0, &HotplugError{Op: "attach", Device: devargs, Cause: err}
	}
	if r.bus == nil {
		return 0, &HotplugError{Op: "attach", Device: devargs, Cause: ErrNotSupported}
	}

	if addr, perr := bus.ParsePCIAddress(devargs); perr == nil {
		port, err = r.attachPCI(addr)
	} else {
		port, err = r.attachVdev(devargs)
	}
	if err != nil {
		return 0, &HotplugError{Op: "attach", Device: devargs, Cause: err}
	}
	klog.Infof("Attached %s as port %d", devargs, port)
	return port, nil
}

func (r *Registry) attachPCI(addr bus.PCIAddress) (PortID, error) {
	if err := r.bus.Scan(); err != nil {
		return 0, err
	}

	if ip, ok := r.bus.(bus.IdentityProber); ok {
		bd, err := ip.ProbeOneDevice(addr)
		if err != nil {
			return 0, err
		}
		return r.PortByName(bd.Name)
	}

	before := r.Snapshot()
	if err := r.bus.ProbeOne(addr); err != nil {
		return 0, err
	}
	return r.ChangedPort(before)
}

func (r *Registry) attachVdev(devargs string) (PortID, error) {
	da, err := bus.ParseDevargs(devargs)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrInvalidArgument)
	}

	if ip, ok := r.bus.(bus.IdentityProber); ok {
		bd, err := ip.VdevInitDevice(da.Name, da.Args)
		if err != nil {
			return 0, err
		}
		return r.PortByName(bd.Name)
	}

	before := r.Snapshot()
	if err := r.bus.VdevInit(da.Name, da.Args); err != nil {
		return 0, err
	}
	return r.ChangedPort(before)
}

// IsDetachable returns nil when the port may be detached at runtime. PCI
// devices must be bound to a UIO kernel driver; vfio and unknown bindings
// never detach. The ethdev driver must declare DriverFlagDetachable.
func (r *Registry) IsDetachable(port PortID) error {
	dev, err := r.device(port, "is_detachable")
	if err != nil {
		return err
	}
	if dev.devType == DeviceTypePhysical {
		if dev.busDev == nil || !dev.busDev.Kdrv.SupportsHotplug() {
			kdrv := bus.KdrvUnknown
			if dev.busDev != nil {
				kdrv = dev.busDev.Kdrv
			}
			return newPortError(port, "is_detachable", ErrNotSupported, "kernel driver %s", kdrv)
		}
	}
	if dev.flags()&DriverFlagDetachable == 0 {
		return newPortError(port, "is_detachable", ErrNotSupported, "driver is not detachable")
	}
	return nil
}

// Detach removes a port's device from its bus and returns the device
// identity (PCI address or virtual device name) for a later Attach.
func (r *Registry) Detach(port PortID) (name string, err error) {
	defer func() {
		metrics.RecordHotplug(metrics.HotplugDetach, err)
		if err != nil {
			klog.Errorf("Cannot detach port %d: %v", port, err)
		}
	}()

	if err := r.primaryOnly(port, "detach"); err != nil {
		return "", err
	}
	dev, err := r.device(port, "detach")
	if err != nil {
		return "", err
	}
	if r.bus == nil {
		return "", &HotplugError{Op: "detach", Device: dev.data.Name, Cause: ErrNotSupported}
	}
	if err := r.IsDetachable(port); err != nil {
		return "", &HotplugError{Op: "detach", Device: dev.data.Name, Cause: err}
	}

	if dev.devType == DeviceTypePhysical {
		addr := dev.busDev.Addr
		if addr.IsZero() {
			return "", &HotplugError{Op: "detach", Device: dev.data.Name,
				Cause: fmt.Errorf("zero PCI address: %w", ErrInvalidArgument)}
		}
		name = addr.String()
		if err := r.bus.Detach(addr); err != nil {
			return "", &HotplugError{Op: "detach", Device: name, Cause: err}
		}
	} else {
		name = dev.data.Name
		if err := r.bus.VdevUninit(name); err != nil {
			return "", &HotplugError{Op: "detach", Device: name, Cause: err}
		}
	}

	klog.Infof("Detached port %d (%s)", port, name)
	return name, nil
}

// busRemove asks the bus to remove a probed device regardless of
// detachability; used at teardown.
func (r *Registry) busRemove(dev *Device) error {
	if dev.busDev.Kind == bus.KindPCI {
		return r.bus.Detach(dev.busDev.Addr)
	}
	return r.bus.VdevUninit(dev.busDev.Name)
}
