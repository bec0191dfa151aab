package ethdev

import (
	"sync/atomic"

	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

// SRIOVState is the resolved SR-IOV pool partition of a port
type SRIOVState struct {
	// Active is the number of pools; 0 when SR-IOV is off
	Active uint16

	// QueuesPerPool is the per-pool queue budget
	QueuesPerPool uint16

	// DefaultVMDQIndex is the pool used by the physical function
	DefaultVMDQIndex uint16

	// DefaultPoolQueueIndex is the first queue of the default pool
	DefaultPoolQueueIndex uint16
}

// Link record layout packed into one 64-bit word so that readers and the
// interrupt path can swap it atomically.
const (
	linkSpeedMask   = 0xffffffff
	linkDuplexBit   = 1 << 32
	linkAutonegBit  = 1 << 33
	linkStatusUpBit = 1 << 34
)

func packLink(l Link) uint64 {
	v := uint64(l.Speed) & linkSpeedMask
	if l.Duplex == DuplexFull {
		v |= linkDuplexBit
	}
	if l.Autoneg {
		v |= linkAutonegBit
	}
	if l.Up {
		v |= linkStatusUpBit
	}
	return v
}

func unpackLink(v uint64) Link {
	l := Link{Speed: uint32(v & linkSpeedMask)}
	if v&linkDuplexBit != 0 {
		l.Duplex = DuplexFull
	}
	l.Autoneg = v&linkAutonegBit != 0
	l.Up = v&linkStatusUpBit != 0
	return l
}

// DevData is the per-port block published in the ethdev_data memzone.
// Primary processes create it; secondaries see the same block.
//
// Queue arrays, configuration and address tables are mutated by the
// primary process only and are not locked. started, link and
// RxMbufAllocFailed are atomic because the data path reads them.
type DevData struct {
	// Name is the unique device name
	Name string

	// PortID is the slot index
	PortID PortID

	// MTU is the configured MTU
	MTU uint16

	// MinRxBufSize is the smallest data room seen across rx queue setups
	MinRxBufSize uint32

	// Conf is a copy of the last accepted configuration
	Conf DevConf

	// RxQueues and TxQueues hold driver queue handles. nil means the port
	// was never configured; an empty slice means zero queues.
	RxQueues []Queue
	TxQueues []Queue

	// RxQueueState and TxQueueState track per-queue start state
	RxQueueState []QueueState
	TxQueueState []QueueState

	// rxDeferred and txDeferred mark queues set up with deferred start
	rxDeferred []bool
	txDeferred []bool

	// MACAddrs is the unicast table; index 0 is the default address
	MACAddrs []util.EtherAddr

	// MACPoolSel holds the pool bitmask for each MACAddrs entry
	MACPoolSel []uint64

	// HashMACAddrs is the unicast hash filter table
	HashMACAddrs []util.EtherAddr

	// SRIOV is the resolved SR-IOV partition
	SRIOV SRIOVState

	// Promiscuous and AllMulticast are replayed on start
	Promiscuous  bool
	AllMulticast bool

	// RxMbufAllocFailed counts receive buffer allocation failures
	RxMbufAllocFailed atomic.Uint64

	started atomic.Bool
	link    atomic.Uint64
	state   PortState

	queueBytes int64
}

// NbRxQueues returns the configured receive queue count
func (d *DevData) NbRxQueues() uint16 {
	return uint16(len(d.RxQueues))
}

// NbTxQueues returns the configured transmit queue count
func (d *DevData) NbTxQueues() uint16 {
	return uint16(len(d.TxQueues))
}

// Started reports whether the port is started
func (d *DevData) Started() bool {
	return d.started.Load()
}

// State returns the lifecycle state
func (d *DevData) State() PortState {
	return d.state
}

// Link returns the link record with a single atomic load
func (d *DevData) Link() Link {
	return unpackLink(d.link.Load())
}

// SetLink replaces the link record and reports whether it changed
func (d *DevData) SetLink(l Link) bool {
	nv := packLink(l)
	for {
		old := d.link.Load()
		if old == nv {
			return false
		}
		if d.link.CompareAndSwap(old, nv) {
			return true
		}
	}
}

// AllocMACAddrs sizes the unicast and hash address tables. Drivers call it
// from Init.
func (d *DevData) AllocMACAddrs(n, hashN int) {
	d.MACAddrs = make([]util.EtherAddr, n)
	d.MACPoolSel = make([]uint64, n)
	if hashN > 0 {
		d.HashMACAddrs = make([]util.EtherAddr, hashN)
	}
}

func (d *DevData) rxQueueIsDeferred(q uint16) bool {
	return int(q) < len(d.rxDeferred) && d.rxDeferred[q]
}

func (d *DevData) txQueueIsDeferred(q uint16) bool {
	return int(q) < len(d.txDeferred) && d.txDeferred[q]
}

// devDataRegionSize is the nominal memzone size for the shared block table
func devDataRegionSize(maxPorts int) int64 {
	const devDataSize = 4096
	return int64(maxPorts) * devDataSize
}
