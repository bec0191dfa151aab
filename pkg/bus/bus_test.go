package bus

import (
	"errors"
	"testing"
)

func TestParsePCIAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    PCIAddress
		wantErr bool
	}{
		{"0000:01:00.0", PCIAddress{0, 1, 0, 0}, false},
		{"0001:af:1f.7", PCIAddress{1, 0xaf, 0x1f, 7}, false},
		{"ffff:ff:1f.7", PCIAddress{0xffff, 0xff, 0x1f, 7}, false},
		{"01:00.0", PCIAddress{}, true},
		{"0000:01:20.0", PCIAddress{}, true},
		{"0000:01:00.8", PCIAddress{}, true},
		{"0000:001:00.0", PCIAddress{}, true},
		{"net_ring0", PCIAddress{}, true},
		{"0000:zz:00.0", PCIAddress{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePCIAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePCIAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePCIAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestPCIAddressString(t *testing.T) {
	addr := PCIAddress{Domain: 0, Bus: 0x3b, Device: 0x02, Function: 1}
	if got := addr.String(); got != "0000:3b:02.1" {
		t.Errorf("expected 0000:3b:02.1, got %s", got)
	}
	parsed, err := ParsePCIAddress(addr.String())
	if err != nil || parsed != addr {
		t.Errorf("formatted address did not parse back: %v %+v", err, parsed)
	}
	if !(PCIAddress{}).IsZero() || addr.IsZero() {
		t.Errorf("IsZero mismatch")
	}
}

func TestParseDevargs(t *testing.T) {
	da, err := ParseDevargs("net_ring0,queues=2,mac=02:00:00:00:00:01")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if da.Name != "net_ring0" || da.Args != "queues=2,mac=02:00:00:00:00:01" {
		t.Errorf("unexpected devargs %+v", da)
	}
	if da.String() != "net_ring0,queues=2,mac=02:00:00:00:00:01" {
		t.Errorf("unexpected String() %q", da.String())
	}

	if _, err := ParseDevargs(",queues=2"); err == nil {
		t.Errorf("expected error for empty name")
	}

	kv, err := ParseKVArgs(da.Args, "queues", "mac")
	if err != nil {
		t.Fatalf("kv parse failed: %v", err)
	}
	if kv["queues"] != "2" || kv["mac"] != "02:00:00:00:00:01" {
		t.Errorf("unexpected kv %v", kv)
	}
	if _, err := ParseKVArgs("bogus=1", "queues"); err == nil {
		t.Errorf("expected unknown key error")
	}
}

func TestKernelDriverHotplug(t *testing.T) {
	for _, k := range []KernelDriver{KdrvIgbUIO, KdrvUIOGeneric, KdrvNICUIO} {
		if !k.SupportsHotplug() {
			t.Errorf("%s should support hotplug", k)
		}
	}
	for _, k := range []KernelDriver{KdrvVFIO, KdrvNone, KdrvUnknown} {
		if k.SupportsHotplug() {
			t.Errorf("%s should not support hotplug", k)
		}
	}
	k, err := ParseKernelDriver("vfio-pci")
	if err != nil || k != KdrvVFIO {
		t.Errorf("ParseKernelDriver(vfio-pci) = %v, %v", k, err)
	}
}

func TestMemoryBusPCILifecycle(t *testing.T) {
	b := NewMemoryBus()
	addr := PCIAddress{Bus: 1}
	id := PCIID{VendorID: 0x8086, DeviceID: 0x10fb}

	var probed, removed []string
	err := b.RegisterDriver(&Driver{
		Name:    "net_ixgbe",
		Kind:    KindPCI,
		IDTable: []PCIID{id},
		Probe:   func(dev *Device) error { probed = append(probed, dev.Name); return nil },
		Remove:  func(dev *Device) error { removed = append(removed, dev.Name); return nil },
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	b.PlugPCI(addr, id, KdrvIgbUIO, 0, 0)
	if err := b.ProbeOne(addr); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("probe before scan should fail with ErrDeviceNotFound, got %v", err)
	}

	if err := b.Scan(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	dev, err := b.ProbeOneDevice(addr)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if dev.Name != "0000:01:00.0" || dev.Driver == nil {
		t.Errorf("unexpected probed device %+v", dev)
	}

	if err := b.Detach(addr); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if err := b.Detach(addr); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second detach should fail with ErrDeviceNotFound, got %v", err)
	}
	if len(probed) != 1 || len(removed) != 1 {
		t.Errorf("expected one probe and one remove, got %v %v", probed, removed)
	}
}

func TestMemoryBusVdev(t *testing.T) {
	b := NewMemoryBus()
	_ = b.RegisterDriver(&Driver{Name: "net_ring", Kind: KindVirtual, Probe: func(*Device) error { return nil }})
	_ = b.RegisterDriver(&Driver{Name: "net_ring_fast", Kind: KindVirtual, Probe: func(*Device) error { return nil }})

	dev, err := b.VdevInitDevice("net_ring_fast0", "")
	if err != nil {
		t.Fatalf("vdev init failed: %v", err)
	}
	if dev.Driver.Name != "net_ring_fast" {
		t.Errorf("expected longest prefix match, got %s", dev.Driver.Name)
	}
	if err := b.VdevInit("net_ring_fast0", ""); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("expected ErrDeviceExists, got %v", err)
	}
	if err := b.VdevInit("net_tap0", ""); !errors.Is(err, ErrNoDriver) {
		t.Errorf("expected ErrNoDriver, got %v", err)
	}
	if err := b.VdevUninit("net_ring_fast0"); err != nil {
		t.Errorf("uninit failed: %v", err)
	}
	if len(b.Devices()) != 0 {
		t.Errorf("expected no devices, got %v", b.Devices())
	}
}
