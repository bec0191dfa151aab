package ethdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
)

var testPCIID = bus.PCIID{VendorID: 0x8086, DeviceID: 0x10fb}

// plainBus hides MemoryBus's identity reporting so Attach falls back to the
// snapshot diff
type plainBus struct {
	bus.Bus
}

func fakeDriver(name string, kind bus.DeviceKind, flags DriverFlags, inits *int) *Driver {
	return &Driver{
		Name:        name,
		Kind:        kind,
		IDTable:     []bus.PCIID{testPCIID},
		Flags:       flags,
		PrivateSize: 512,
		Init: func(dev *Device) error {
			if inits != nil {
				*inits++
			}
			dev.Data().AllocMACAddrs(4, 0)
			dev.SetOps(newFakeOps())
			return nil
		},
	}
}

func TestAttachDetachVirtual(t *testing.T) {
	for _, tc := range []struct {
		name string
		wrap func(*bus.MemoryBus) bus.Bus
	}{
		{"identity", func(b *bus.MemoryBus) bus.Bus { return b }},
		{"snapshot diff", func(b *bus.MemoryBus) bus.Bus { return plainBus{b} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mb := bus.NewMemoryBus()
			r := NewRegistry(eal.New(nil), tc.wrap(mb))
			inits := 0
			require.NoError(t, r.RegisterDriver(fakeDriver("net_fake", bus.KindVirtual, DriverFlagDetachable, &inits)))

			p0, err := r.Attach("net_fake0,queues=1")
			require.NoError(t, err)
			p1, err := r.Attach("net_fake1")
			require.NoError(t, err)
			assert.Equal(t, PortID(0), p0)
			assert.Equal(t, PortID(1), p1)
			assert.Equal(t, 2, inits)
			assert.Equal(t, int64(1024), r.EAL().Heap().Used())

			state, _ := r.State(p0)
			assert.Equal(t, PortUnconfigured, state)
			assert.Equal(t, DeviceTypeVirtual, r.DeviceType(p0))

			name, err := r.Detach(p0)
			require.NoError(t, err)
			assert.Equal(t, "net_fake0", name)
			assert.False(t, r.IsValid(p0))
			assert.Equal(t, int64(512), r.EAL().Heap().Used())

			p2, err := r.Attach(name)
			require.NoError(t, err)
			assert.Equal(t, PortID(0), p2)
		})
	}
}

func TestAttachPCI(t *testing.T) {
	addr := bus.PCIAddress{Bus: 1}
	mb := bus.NewMemoryBus()
	mb.PlugPCI(addr, testPCIID, bus.KdrvIgbUIO, 1, 0)
	r := NewRegistry(eal.New(nil), plainBus{mb})
	require.NoError(t, r.RegisterDriver(fakeDriver("net_pci", bus.KindPCI, DriverFlagDetachable, nil)))

	port, err := r.Attach("0000:01:00.0")
	require.NoError(t, err)
	assert.Equal(t, DeviceTypePhysical, r.DeviceType(port))
	assert.Equal(t, 1, r.SocketID(port))
	require.NoError(t, r.IsDetachable(port))

	name, err := r.Detach(port)
	require.NoError(t, err)
	assert.Equal(t, "0000:01:00.0", name)
	assert.Zero(t, r.Count())
}

func TestDetachRules(t *testing.T) {
	addr := bus.PCIAddress{Bus: 2}
	mb := bus.NewMemoryBus()
	mb.PlugPCI(addr, testPCIID, bus.KdrvVFIO, 0, 0)
	r := NewRegistry(eal.New(nil), mb)
	require.NoError(t, r.RegisterDriver(fakeDriver("net_pci", bus.KindPCI, DriverFlagDetachable, nil)))
	require.NoError(t, r.RegisterDriver(fakeDriver("net_pinned", bus.KindVirtual, 0, nil)))

	pci, err := r.Attach(addr.String())
	require.NoError(t, err)
	assert.True(t, IsNotSupported(r.IsDetachable(pci)), "vfio bound devices cannot be detached")

	vdev, err := r.Attach("net_pinned0")
	require.NoError(t, err)
	_, err = r.Detach(vdev)
	var he *HotplugError
	require.ErrorAs(t, err, &he)
	assert.True(t, IsNotSupported(err))

	require.NoError(t, r.Teardown())
	assert.Zero(t, r.Count())
	assert.Empty(t, mb.Devices())
}

func TestAttachErrors(t *testing.T) {
	mb := bus.NewMemoryBus()
	r := NewRegistry(eal.New(nil), mb)

	_, err := r.Attach("")
	assert.True(t, IsInvalidArgument(err))
	_, err = r.Attach("net_nodriver0")
	assert.ErrorIs(t, err, bus.ErrNoDriver)
	_, err = r.Attach("0000:05:00.0")
	assert.ErrorIs(t, err, bus.ErrDeviceNotFound)

	noBus := NewRegistry(eal.New(nil), nil)
	_, err = noBus.Attach("net_ring0")
	assert.True(t, IsNotSupported(err))
}

func TestDriverInitFailureReleasesSlot(t *testing.T) {
	mb := bus.NewMemoryBus()
	r := NewRegistry(eal.New(nil), mb)
	drv := fakeDriver("net_bad", bus.KindVirtual, 0, nil)
	drv.Init = func(*Device) error { return errFake }
	require.NoError(t, r.RegisterDriver(drv))

	_, err := r.Attach("net_bad0")
	assert.ErrorIs(t, err, errFake)
	assert.Zero(t, r.Count())
	assert.Zero(t, r.EAL().Heap().Used())
}
