// Package netdev implements net_kernel, a port backed by a Linux network
// interface.
//
// Link state, MTU, receive modes, the station address and counters are read
// and written over netlink. Packets move through one AF_PACKET socket bound
// to the interface, so a port has a single queue pair.
//
// Device arguments:
//
//	net_kernel0,iface=eth0
package netdev

import (
	"fmt"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

const (
	argIface = "iface"

	maxRxPktLen = 65535
	minRxBuf    = 64
)

// Args are the parsed device arguments
type Args struct {
	Iface string
}

// ParseArgs parses the net_kernel argument string
func ParseArgs(args string) (Args, error) {
	kv, err := bus.ParseKVArgs(args, argIface)
	if err != nil {
		return Args{}, err
	}
	iface := kv[argIface]
	if iface == "" {
		return Args{}, fmt.Errorf("%s is required", argIface)
	}
	if len(iface) > 15 {
		return Args{}, fmt.Errorf("%s=%q: interface names are at most 15 bytes", argIface, iface)
	}
	return Args{Iface: iface}, nil
}

// Register registers net_kernel with r
func Register(r *ethdev.Registry) error {
	return r.RegisterDriver(NewDriver())
}

func driverFor(init, uninit func(*ethdev.Device) error) *ethdev.Driver {
	return &ethdev.Driver{
		Name:        types.DriverNameKernel,
		Kind:        bus.KindVirtual,
		Flags:       ethdev.DriverFlagDetachable | ethdev.DriverFlagIntrLSC,
		PrivateSize: 1024,
		Init:        init,
		Uninit:      uninit,
	}
}
