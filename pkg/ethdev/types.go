package ethdev

import (
	"fmt"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// PortID identifies a port slot
type PortID uint16

// Queue is a driver-owned queue handle. nil means not set up.
type Queue interface{}

// DeviceType is the kind of device behind a port
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypePhysical
	DeviceTypeVirtual
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypePhysical:
		return "physical"
	case DeviceTypeVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// PortState is the lifecycle state of a port
type PortState int

const (
	PortUnconfigured PortState = iota
	PortConfigured
	PortStarted
	PortStopped
	PortClosed
)

func (s PortState) String() string {
	switch s {
	case PortUnconfigured:
		return "unconfigured"
	case PortConfigured:
		return "configured"
	case PortStarted:
		return "started"
	case PortStopped:
		return "stopped"
	case PortClosed:
		return "closed"
	default:
		return fmt.Sprintf("PortState(%d)", int(s))
	}
}

// QueueState is the state of a single rx or tx queue
type QueueState int

const (
	QueueStopped QueueState = iota
	QueueStarted
)

// Multi-queue mode flag bits
const (
	mqRxRSSFlag  = 0x1
	mqRxDCBFlag  = 0x2
	mqRxVMDQFlag = 0x4
)

// RxMQMode selects how received packets are spread over queues
type RxMQMode int

const (
	RxMQNone       RxMQMode = 0
	RxMQRSS        RxMQMode = mqRxRSSFlag
	RxMQDCB        RxMQMode = mqRxDCBFlag
	RxMQDCBRSS     RxMQMode = mqRxRSSFlag | mqRxDCBFlag
	RxMQVMDQOnly   RxMQMode = mqRxVMDQFlag
	RxMQVMDQRSS    RxMQMode = mqRxRSSFlag | mqRxVMDQFlag
	RxMQVMDQDCB    RxMQMode = mqRxVMDQFlag | mqRxDCBFlag
	RxMQVMDQDCBRSS RxMQMode = mqRxRSSFlag | mqRxDCBFlag | mqRxVMDQFlag
)

var rxMQModeNames = map[RxMQMode]string{
	RxMQNone:       "none",
	RxMQRSS:        "rss",
	RxMQDCB:        "dcb",
	RxMQDCBRSS:     "dcb_rss",
	RxMQVMDQOnly:   "vmdq",
	RxMQVMDQRSS:    "vmdq_rss",
	RxMQVMDQDCB:    "vmdq_dcb",
	RxMQVMDQDCBRSS: "vmdq_dcb_rss",
}

func (m RxMQMode) String() string {
	if name, ok := rxMQModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("RxMQMode(%d)", int(m))
}

// ParseRxMQMode parses a mode name such as "vmdq_rss"
func ParseRxMQMode(s string) (RxMQMode, error) {
	if s == "" {
		return RxMQNone, nil
	}
	for mode, name := range rxMQModeNames {
		if name == s {
			return mode, nil
		}
	}
	return RxMQNone, fmt.Errorf("unknown rx multi-queue mode %q", s)
}

// TxMQMode selects how transmit queues are partitioned
type TxMQMode int

const (
	TxMQNone TxMQMode = iota
	TxMQDCB
	TxMQVMDQDCB
	TxMQVMDQOnly
)

func (m TxMQMode) String() string {
	switch m {
	case TxMQNone:
		return "none"
	case TxMQDCB:
		return "dcb"
	case TxMQVMDQDCB:
		return "vmdq_dcb"
	case TxMQVMDQOnly:
		return "vmdq"
	default:
		return fmt.Sprintf("TxMQMode(%d)", int(m))
	}
}

// RxMode is the receive side of a port configuration
type RxMode struct {
	MQMode        RxMQMode `json:"mqMode" yaml:"mqMode"`
	MaxRxPktLen   uint32   `json:"maxRxPktLen" yaml:"maxRxPktLen"`
	SplitHdrSize  uint16   `json:"splitHdrSize" yaml:"splitHdrSize"`
	HeaderSplit   bool     `json:"headerSplit" yaml:"headerSplit"`
	HWIPChecksum  bool     `json:"hwIPChecksum" yaml:"hwIPChecksum"`
	HWVLANFilter  bool     `json:"hwVLANFilter" yaml:"hwVLANFilter"`
	HWVLANStrip   bool     `json:"hwVLANStrip" yaml:"hwVLANStrip"`
	HWVLANExtend  bool     `json:"hwVLANExtend" yaml:"hwVLANExtend"`
	JumboFrame    bool     `json:"jumboFrame" yaml:"jumboFrame"`
	HWStripCRC    bool     `json:"hwStripCRC" yaml:"hwStripCRC"`
	EnableScatter bool     `json:"enableScatter" yaml:"enableScatter"`
	EnableLRO     bool     `json:"enableLRO" yaml:"enableLRO"`
}

// TxMode is the transmit side of a port configuration
type TxMode struct {
	MQMode               TxMQMode `json:"mqMode" yaml:"mqMode"`
	PVID                 uint16   `json:"pvid" yaml:"pvid"`
	HWVLANRejectTagged   bool     `json:"hwVLANRejectTagged" yaml:"hwVLANRejectTagged"`
	HWVLANRejectUntagged bool     `json:"hwVLANRejectUntagged" yaml:"hwVLANRejectUntagged"`
	HWVLANInsertPVID     bool     `json:"hwVLANInsertPVID" yaml:"hwVLANInsertPVID"`
}

// RSS hash function bits
const (
	RSSIPv4             uint64 = 1 << 2
	RSSFragIPv4         uint64 = 1 << 3
	RSSNonFragIPv4TCP   uint64 = 1 << 4
	RSSNonFragIPv4UDP   uint64 = 1 << 5
	RSSNonFragIPv4SCTP  uint64 = 1 << 6
	RSSNonFragIPv4Other uint64 = 1 << 7
	RSSIPv6             uint64 = 1 << 8
	RSSFragIPv6         uint64 = 1 << 9
	RSSNonFragIPv6TCP   uint64 = 1 << 10
	RSSNonFragIPv6UDP   uint64 = 1 << 11
	RSSNonFragIPv6SCTP  uint64 = 1 << 12
	RSSNonFragIPv6Other uint64 = 1 << 13
	RSSL2Payload        uint64 = 1 << 14

	// RSSProtoMask covers every valid hash function bit
	RSSProtoMask = RSSIPv4 | RSSFragIPv4 | RSSNonFragIPv4TCP | RSSNonFragIPv4UDP |
		RSSNonFragIPv4SCTP | RSSNonFragIPv4Other | RSSIPv6 | RSSFragIPv6 |
		RSSNonFragIPv6TCP | RSSNonFragIPv6UDP | RSSNonFragIPv6SCTP |
		RSSNonFragIPv6Other | RSSL2Payload
)

// RSSConf configures receive side scaling
type RSSConf struct {
	Key           []byte `json:"key,omitempty" yaml:"key,omitempty"`
	HashFunctions uint64 `json:"hashFunctions" yaml:"hashFunctions"`
}

// PoolConf sets the number of VMDQ pools
type PoolConf struct {
	NbQueuePools int `json:"nbQueuePools" yaml:"nbQueuePools"`
}

// DCBConf sets the number of DCB traffic classes
type DCBConf struct {
	NbTCs int `json:"nbTCs" yaml:"nbTCs"`
}

// RxAdvConf holds mode-specific receive settings
type RxAdvConf struct {
	RSS     RSSConf  `json:"rss" yaml:"rss"`
	VMDQDCB PoolConf `json:"vmdqDCB" yaml:"vmdqDCB"`
	DCB     DCBConf  `json:"dcb" yaml:"dcb"`
	VMDQ    PoolConf `json:"vmdq" yaml:"vmdq"`
}

// TxAdvConf holds mode-specific transmit settings
type TxAdvConf struct {
	VMDQDCB PoolConf `json:"vmdqDCB" yaml:"vmdqDCB"`
	DCB     DCBConf  `json:"dcb" yaml:"dcb"`
}

// IntrConf enables device interrupts
type IntrConf struct {
	// LSC enables link status change interrupts
	LSC bool `json:"lsc" yaml:"lsc"`

	// RxQ enables per-queue receive interrupts
	RxQ bool `json:"rxq" yaml:"rxq"`
}

// DevConf is the configuration applied by Configure
type DevConf struct {
	LinkSpeed       uint32    `json:"linkSpeed" yaml:"linkSpeed"`
	LinkDuplex      Duplex    `json:"linkDuplex" yaml:"linkDuplex"`
	RxMode          RxMode    `json:"rxMode" yaml:"rxMode"`
	TxMode          TxMode    `json:"txMode" yaml:"txMode"`
	LpbkMode        uint32    `json:"lpbkMode" yaml:"lpbkMode"`
	RxAdv           RxAdvConf `json:"rxAdv" yaml:"rxAdv"`
	TxAdv           TxAdvConf `json:"txAdv" yaml:"txAdv"`
	DCBCapabilityEn uint32    `json:"dcbCapabilityEn" yaml:"dcbCapabilityEn"`
	Intr            IntrConf  `json:"intr" yaml:"intr"`
}

// RxConf configures one receive queue
type RxConf struct {
	FreeThresh    uint16 `json:"freeThresh" yaml:"freeThresh"`
	DropEn        bool   `json:"dropEn" yaml:"dropEn"`
	DeferredStart bool   `json:"deferredStart" yaml:"deferredStart"`
}

// TxConf configures one transmit queue
type TxConf struct {
	RSThresh      uint16 `json:"rsThresh" yaml:"rsThresh"`
	FreeThresh    uint16 `json:"freeThresh" yaml:"freeThresh"`
	TxqFlags      uint32 `json:"txqFlags" yaml:"txqFlags"`
	DeferredStart bool   `json:"deferredStart" yaml:"deferredStart"`
}

// DevInfo is what a driver reports about a device
type DevInfo struct {
	DriverName          string
	BusDevice           *bus.Device
	MinRxBufSize        uint32
	MaxRxPktLen         uint32
	MaxRxQueues         uint16
	MaxTxQueues         uint16
	MaxMACAddrs         uint32
	MaxHashMACAddrs     uint32
	MaxVFs              uint16
	MaxVMDQPools        uint16
	RxOffloadCapa       uint32
	TxOffloadCapa       uint32
	RETASize            uint16
	HashKeySize         uint8
	FlowTypeRSSOffloads uint64
	DefaultRxConf       RxConf
	DefaultTxConf       TxConf
	VMDQQueueBase       uint16
	VMDQQueueNum        uint16
	VMDQPoolBase        uint16
}

// Duplex is the link duplex mode
type Duplex uint8

const (
	DuplexHalf Duplex = iota
	DuplexFull
)

// Link speeds in Mbps
const (
	LinkSpeedAutoneg uint32 = 0
	LinkSpeed10      uint32 = 10
	LinkSpeed100     uint32 = 100
	LinkSpeed1G      uint32 = 1000
	LinkSpeed10G     uint32 = 10000
	LinkSpeed25G     uint32 = 25000
	LinkSpeed40G     uint32 = 40000
	LinkSpeed100G    uint32 = 100000
)

// Link is a link status snapshot
type Link struct {
	// Speed in Mbps
	Speed   uint32
	Duplex  Duplex
	Autoneg bool
	Up      bool
}

func (l Link) String() string {
	if !l.Up {
		return "down"
	}
	duplex := "half-duplex"
	if l.Duplex == DuplexFull {
		duplex = "full-duplex"
	}
	return fmt.Sprintf("up %d Mbps %s", l.Speed, duplex)
}

// Stats are the basic device counters
type Stats struct {
	IPackets  uint64
	OPackets  uint64
	IBytes    uint64
	OBytes    uint64
	IMissed   uint64
	IErrors   uint64
	OErrors   uint64
	RxNoMbuf  uint64
	QIPackets [types.QueueStatCounters]uint64
	QOPackets [types.QueueStatCounters]uint64
	QIBytes   [types.QueueStatCounters]uint64
	QOBytes   [types.QueueStatCounters]uint64
	QErrors   [types.QueueStatCounters]uint64
}

// XStat is a named extended counter
type XStat struct {
	Name  string
	Value uint64
}

// FCMode is the flow control mode
type FCMode int

const (
	FCNone FCMode = iota
	FCRxPause
	FCTxPause
	FCFull
)

// FCConf configures link flow control
type FCConf struct {
	HighWater       uint32
	LowWater        uint32
	PauseTime       uint16
	SendXON         bool
	Mode            FCMode
	MACCtrlFrameFwd bool
	Autoneg         bool
}

// PFCConf configures priority flow control
type PFCConf struct {
	FC       FCConf
	Priority uint8
}

// RETAEntry64 is one group of the RSS redirection table. Entries with the
// corresponding Mask bit set are read or written.
type RETAEntry64 struct {
	Mask uint64
	RETA [types.RETAGroupSize]uint16
}

// VLAN offload bits for SetVLANOffload
const (
	VLANStripOffload  = 0x1
	VLANFilterOffload = 0x2
	VLANExtendOffload = 0x4

	VLANStripMask  = 0x1
	VLANFilterMask = 0x2
	VLANExtendMask = 0x4
)

// TunnelType is a UDP tunnel protocol
type TunnelType int

const (
	TunnelNone TunnelType = iota
	TunnelVXLAN
	TunnelGENEVE
	TunnelTEREDO
	TunnelNVGRE
	tunnelTypeMax
)

// UDPTunnel is a UDP port recognized as a tunnel endpoint
type UDPTunnel struct {
	Port uint16
	Type TunnelType
}

// VF receive mode bits
const (
	VFAcceptUntagged = 0x01
	VFAcceptHashMC   = 0x02
	VFAcceptHashUC   = 0x04
	VFAcceptBcast    = 0x08
	VFAcceptMCProm   = 0x10
)

// Mirror rule type bits
const (
	MirrorVirtualPoolUp   = 0x01
	MirrorUplinkPort      = 0x02
	MirrorDownlinkPort    = 0x04
	MirrorVLAN            = 0x08
	MirrorVirtualPoolDown = 0x10
)

// MirrorConf describes a traffic mirroring rule
type MirrorConf struct {
	RuleType uint8
	DstPool  uint8
	PoolMask uint64
	VLANMask uint64
	VLANIDs  [64]uint16
}

// FilterType selects a hardware filter family
type FilterType int

const (
	FilterNone FilterType = iota
	FilterMACVLAN
	FilterEtherType
	FilterFlexible
	FilterSYN
	FilterNTuple
	FilterTunnel
	FilterFDir
	FilterHash
)

// FilterOp is an operation on a filter family
type FilterOp int

const (
	FilterNop FilterOp = iota
	FilterAdd
	FilterUpdate
	FilterDelete
	FilterFlush
	FilterGet
	FilterSet
	FilterInfo
	FilterStats
)

// RegInfo is a register dump request and result
type RegInfo struct {
	Data    []uint32
	Offset  uint32
	Length  uint32
	Width   uint32
	Version uint32
}

// EEPROMInfo is an EEPROM read or write request
type EEPROMInfo struct {
	Data   []byte
	Offset uint32
	Length uint32
	Magic  uint32
}

// DriverFlags are static properties a driver declares
type DriverFlags uint32

const (
	// DriverFlagIntrLSC means the driver raises link status change events
	DriverFlagIntrLSC DriverFlags = 1 << iota

	// DriverFlagDetachable means the device may be detached at runtime
	DriverFlagDetachable
)
