// Package ring implements net_ring, an in-memory loopback port.
//
// Packets transmitted on queue i are received on queue i of the same port.
// Every control operation is backed by driver state so the ring port can
// exercise the whole ethdev API without hardware.
//
// Device arguments:
//
//	net_ring0,queues=4,mac=02:00:00:00:00:01,vfs=8,link_delay=50ms
//
// With vfs set the port starts with SR-IOV active: every VF owns a pool and
// the port itself takes the pool after the last VF.
package ring

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

const (
	// DefaultQueues is the queue pair count when queues= is not given
	DefaultQueues = 1

	// MaxQueues bounds queues=
	MaxQueues = 16

	maxMACAddrs     = 16
	maxHashMACAddrs = 64
	retaSize        = 128
	rssKeySize      = 40
	regCount        = 64
	eepromSize      = 256
	maxMirrorRules  = 4

	// eepromMagic must accompany EEPROM writes
	eepromMagic = 0x52494e47

	argQueues    = "queues"
	argMAC       = "mac"
	argVFs       = "vfs"
	argLinkDelay = "link_delay"
)

// Args are the parsed device arguments
type Args struct {
	Queues    uint16
	MAC       util.EtherAddr
	VFs       uint16
	LinkDelay time.Duration
}

// ParseArgs parses the net_ring argument string. port seeds the default MAC
// address.
func ParseArgs(args string, port ethdev.PortID) (Args, error) {
	kv, err := bus.ParseKVArgs(args, argQueues, argMAC, argVFs, argLinkDelay)
	if err != nil {
		return Args{}, err
	}

	a := Args{
		Queues: DefaultQueues,
		MAC:    util.GenerateEtherAddr(uint32(port) + 1),
	}
	if v, ok := kv[argQueues]; ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil || n == 0 || n > MaxQueues {
			return Args{}, fmt.Errorf("%s=%q: must be 1-%d", argQueues, v, MaxQueues)
		}
		a.Queues = uint16(n)
	}
	if v, ok := kv[argMAC]; ok {
		mac, err := util.ParseEtherAddr(v)
		if err != nil {
			return Args{}, fmt.Errorf("%s=%q: %w", argMAC, v, err)
		}
		if !mac.IsValidAssigned() {
			return Args{}, fmt.Errorf("%s=%q: not a unicast address", argMAC, v)
		}
		a.MAC = mac
	}
	if v, ok := kv[argVFs]; ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil || n > 64 {
			return Args{}, fmt.Errorf("%s=%q: must be 0-64", argVFs, v)
		}
		a.VFs = uint16(n)
	}
	if v, ok := kv[argLinkDelay]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Args{}, fmt.Errorf("%s=%q: invalid duration", argLinkDelay, v)
		}
		a.LinkDelay = d
	}
	return a, nil
}

// NewDriver returns the net_ring driver registration
func NewDriver() *ethdev.Driver {
	return &ethdev.Driver{
		Name:        types.DriverNameRing,
		Kind:        bus.KindVirtual,
		Flags:       ethdev.DriverFlagDetachable | ethdev.DriverFlagIntrLSC,
		PrivateSize: 4096,
		Init:        initPort,
		Uninit:      uninitPort,
	}
}

// Register registers net_ring with r
func Register(r *ethdev.Registry) error {
	return r.RegisterDriver(NewDriver())
}

func initPort(dev *ethdev.Device) error {
	bd := dev.BusDevice()
	args, err := ParseArgs(bd.Args, dev.Port())
	if err != nil {
		return fmt.Errorf("%s: %w: %v", bd.Name, ethdev.ErrInvalidArgument, err)
	}

	p := newPort(dev, args)
	data := dev.Data()
	data.AllocMACAddrs(maxMACAddrs, maxHashMACAddrs)
	data.MACAddrs[0] = args.MAC
	data.MACPoolSel[0] = 1
	if args.VFs > 0 {
		bd.MaxVFs = args.VFs
		data.SRIOV = ethdev.HostSRIOV(args.VFs)
	}

	dev.SetPrivate(p)
	dev.SetOps(p)
	dev.SetBurstFuncs(rxBurst, txBurst)

	p.log.Info("Ring port initialized", "queues", args.Queues, "mac", args.MAC.String(), "vfs", args.VFs)
	return nil
}

func uninitPort(dev *ethdev.Device) error {
	p, ok := dev.Private().(*port)
	if !ok {
		return nil
	}
	p.shutdown()
	p.log.Info("Ring port removed")
	return nil
}

// portOf returns the ring state behind dev
func portOf(dev *ethdev.Device) *port {
	return dev.Private().(*port)
}
