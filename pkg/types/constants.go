// Package types provides constants shared by the ethdev packages.
//
// This package contains:
// - Port and queue capacity limits
// - Ethernet frame size bounds
// - SR-IOV, VMDQ and DCB partition cardinalities
package types

const (
	// Port table capacity
	MaxPorts = 256

	// Upper bound on rx or tx queues a single port may configure
	MaxQueuesPerPort = 1024

	// Number of per-queue counters a driver reports in basic stats
	QueueStatCounters = 16

	// Ethernet frame bounds (including CRC)
	EtherMinLen  = 64
	EtherMaxLen  = 1518
	EtherMTU     = 1500
	EtherAddrLen = 6

	// Bytes reserved at the front of every packet buffer
	PktmbufHeadroom = 128

	// MAC address pool bitmask width
	MaxVMDQPools = 64

	// VMDQ+DCB and DCB modes each require exactly this many queues
	VMDQDCBNumQueues = 128
	DCBNumQueues     = 128

	// VMDQ pool cardinalities
	VMDQPools16 = 16
	VMDQPools32 = 32
	VMDQPools64 = 64

	// DCB traffic class cardinalities
	DCBTCs4 = 4
	DCBTCs8 = 8

	// Highest valid 802.1Q VLAN id
	MaxVLANID = 4095

	// Highest 802.1p priority for priority flow control
	MaxUserPriority = 7

	// Redirection table entries are updated in groups of this size
	RETAGroupSize = 64

	// Name of the shared region holding every port's data block
	EthdevDataMemzone = "ethdev_data"

	// Virtual device driver names
	DriverNameRing   = "net_ring"
	DriverNameKernel = "net_kernel"
)
