package ethdev

import (
	"time"

	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

// A driver hands the core one value (Device.SetOps) implementing any subset
// of the interfaces below. The core type-asserts for each capability when an
// operation needs it; a missing capability yields ErrNotSupported.

// PacketPool is the buffer pool contract receive queue setup validates
type PacketPool interface {
	Name() string
	DataRoomSize() uint16
}

type DevInfoer interface {
	DevInfo(dev *Device, info *DevInfo)
}

type Configurer interface {
	Configure(dev *Device) error
}

type Starter interface {
	Start(dev *Device) error
}

type Stopper interface {
	Stop(dev *Device)
}

type Closer interface {
	Close(dev *Device)
}

type LinkUpDowner interface {
	SetLinkUp(dev *Device) error
	SetLinkDown(dev *Device) error
}

type RxQueueSetuper interface {
	RxQueueSetup(dev *Device, queueID, nbDesc uint16, socketID int, conf *RxConf, pool PacketPool) error
}

type TxQueueSetuper interface {
	TxQueueSetup(dev *Device, queueID, nbDesc uint16, socketID int, conf *TxConf) error
}

type RxQueueReleaser interface {
	RxQueueRelease(q Queue)
}

type TxQueueReleaser interface {
	TxQueueRelease(q Queue)
}

type RxQueueStartStopper interface {
	RxQueueStart(dev *Device, queueID uint16) error
	RxQueueStop(dev *Device, queueID uint16) error
}

type TxQueueStartStopper interface {
	TxQueueStart(dev *Device, queueID uint16) error
	TxQueueStop(dev *Device, queueID uint16) error
}

type PromiscuousSetter interface {
	PromiscuousEnable(dev *Device)
	PromiscuousDisable(dev *Device)
}

type AllMulticastSetter interface {
	AllMulticastEnable(dev *Device)
	AllMulticastDisable(dev *Device)
}

// LinkUpdater refreshes the link record in the device's data block. With
// waitToComplete it may block until the link settles.
type LinkUpdater interface {
	LinkUpdate(dev *Device, waitToComplete bool) error
}

type StatsGetter interface {
	StatsGet(dev *Device, stats *Stats)
}

type StatsResetter interface {
	StatsReset(dev *Device)
}

// XStatsGetter writes up to len(xstats) driver counters and returns the
// total number the driver has.
type XStatsGetter interface {
	XStatsGet(dev *Device, xstats []XStat) (int, error)
}

type XStatsResetter interface {
	XStatsReset(dev *Device)
}

type QueueStatsMapper interface {
	QueueStatsMappingSet(dev *Device, queueID uint16, statIdx uint8, isRx bool) error
}

type MTUSetter interface {
	SetMTU(dev *Device, mtu uint16) error
}

type VLANFilterSetter interface {
	VLANFilterSet(dev *Device, vlanID uint16, on bool) error
}

type VLANStripQueueSetter interface {
	VLANStripQueueSet(dev *Device, queueID uint16, on bool)
}

type VLANTPIDSetter interface {
	VLANTPIDSet(dev *Device, tpid uint16) error
}

type VLANOffloadSetter interface {
	VLANOffloadSet(dev *Device, mask int)
}

type VLANPVIDSetter interface {
	VLANPVIDSet(dev *Device, pvid uint16, on bool) error
}

type FlowCtrlGetter interface {
	FlowCtrlGet(dev *Device, conf *FCConf) error
}

type FlowCtrlSetter interface {
	FlowCtrlSet(dev *Device, conf *FCConf) error
}

type PriorityFlowCtrlSetter interface {
	PriorityFlowCtrlSet(dev *Device, conf *PFCConf) error
}

type RETAUpdater interface {
	RETAUpdate(dev *Device, conf []RETAEntry64, retaSize uint16) error
}

type RETAQuerier interface {
	RETAQuery(dev *Device, conf []RETAEntry64, retaSize uint16) error
}

type RSSHashUpdater interface {
	RSSHashUpdate(dev *Device, conf *RSSConf) error
}

type RSSHashConfGetter interface {
	RSSHashConfGet(dev *Device, conf *RSSConf) error
}

type UDPTunnelManager interface {
	UDPTunnelAdd(dev *Device, tunnel UDPTunnel) error
	UDPTunnelDel(dev *Device, tunnel UDPTunnel) error
}

type LEDController interface {
	LEDOn(dev *Device) error
	LEDOff(dev *Device) error
}

type MACAddrAdder interface {
	MACAddrAdd(dev *Device, addr util.EtherAddr, index uint32, pool uint32) error
}

type MACAddrRemover interface {
	MACAddrRemove(dev *Device, index uint32)
}

type MACAddrSetter interface {
	MACAddrSet(dev *Device, addr util.EtherAddr)
}

type UCHashTableSetter interface {
	UCHashTableSet(dev *Device, addr util.EtherAddr, on bool) error
	UCAllHashTableSet(dev *Device, on bool) error
}

type MCAddrListSetter interface {
	SetMCAddrList(dev *Device, addrs []util.EtherAddr) error
}

type VFController interface {
	SetVFRxMode(dev *Device, vf uint16, rxMode uint16, on bool) error
	SetVFRx(dev *Device, vf uint16, on bool) error
	SetVFTx(dev *Device, vf uint16, on bool) error
	SetVFVLANFilter(dev *Device, vlanID uint16, vfMask uint64, on bool) error
}

type QueueRateLimiter interface {
	SetQueueRateLimit(dev *Device, queueID uint16, txRate uint16) error
}

type VFRateLimiter interface {
	SetVFRateLimit(dev *Device, vf uint16, txRate uint16, queueMask uint64) error
}

type MirrorRuleManager interface {
	MirrorRuleSet(dev *Device, conf *MirrorConf, ruleID uint8, on bool) error
	MirrorRuleReset(dev *Device, ruleID uint8) error
}

type RxQueueCounter interface {
	RxQueueCount(dev *Device, queueID uint16) (uint32, error)
}

type RxDescriptorDoner interface {
	RxDescriptorDone(q Queue, offset uint16) (bool, error)
}

type RxIntrController interface {
	RxQueueIntrEnable(dev *Device, queueID uint16) error
	RxQueueIntrDisable(dev *Device, queueID uint16) error
}

type FilterController interface {
	FilterCtrl(dev *Device, filterType FilterType, op FilterOp, arg interface{}) error
}

type Timesyncer interface {
	TimesyncEnable(dev *Device) error
	TimesyncDisable(dev *Device) error
	TimesyncReadRxTimestamp(dev *Device, flags uint32) (time.Time, error)
	TimesyncReadTxTimestamp(dev *Device) (time.Time, error)
}

type RegisterDumper interface {
	RegLength(dev *Device) (int, error)
	RegInfo(dev *Device, info *RegInfo) error
}

type EEPROMAccessor interface {
	EEPROMLength(dev *Device) (int, error)
	GetEEPROM(dev *Device, info *EEPROMInfo) error
	SetEEPROM(dev *Device, info *EEPROMInfo) error
}

// Capability names one optional driver interface
type Capability string

const (
	CapDevInfo          Capability = "dev_info"
	CapConfigure        Capability = "configure"
	CapStart            Capability = "start"
	CapStop             Capability = "stop"
	CapClose            Capability = "close"
	CapLinkUpDown       Capability = "link_up_down"
	CapRxQueueSetup     Capability = "rx_queue_setup"
	CapTxQueueSetup     Capability = "tx_queue_setup"
	CapRxQueueRelease   Capability = "rx_queue_release"
	CapTxQueueRelease   Capability = "tx_queue_release"
	CapRxQueueStartStop Capability = "rx_queue_start_stop"
	CapTxQueueStartStop Capability = "tx_queue_start_stop"
	CapPromiscuous      Capability = "promiscuous"
	CapAllMulticast     Capability = "allmulticast"
	CapLinkUpdate       Capability = "link_update"
	CapStats            Capability = "stats"
	CapStatsReset       Capability = "stats_reset"
	CapXStats           Capability = "xstats"
	CapXStatsReset      Capability = "xstats_reset"
	CapQueueStatsMap    Capability = "queue_stats_mapping"
	CapMTU              Capability = "mtu"
	CapVLANFilter       Capability = "vlan_filter"
	CapVLANStripQueue   Capability = "vlan_strip_queue"
	CapVLANTPID         Capability = "vlan_tpid"
	CapVLANOffload      Capability = "vlan_offload"
	CapVLANPVID         Capability = "vlan_pvid"
	CapFlowCtrlGet      Capability = "flow_ctrl_get"
	CapFlowCtrlSet      Capability = "flow_ctrl_set"
	CapPriorityFlowCtrl Capability = "priority_flow_ctrl"
	CapRETAUpdate       Capability = "reta_update"
	CapRETAQuery        Capability = "reta_query"
	CapRSSHashUpdate    Capability = "rss_hash_update"
	CapRSSHashConf      Capability = "rss_hash_conf"
	CapUDPTunnel        Capability = "udp_tunnel"
	CapLED              Capability = "led"
	CapMACAddrAdd       Capability = "mac_addr_add"
	CapMACAddrRemove    Capability = "mac_addr_remove"
	CapMACAddrSet       Capability = "mac_addr_set"
	CapUCHashTable      Capability = "uc_hash_table"
	CapMCAddrList       Capability = "mc_addr_list"
	CapVF               Capability = "vf"
	CapQueueRateLimit   Capability = "queue_rate_limit"
	CapVFRateLimit      Capability = "vf_rate_limit"
	CapMirrorRule       Capability = "mirror_rule"
	CapRxQueueCount     Capability = "rx_queue_count"
	CapRxDescriptorDone Capability = "rx_descriptor_done"
	CapRxIntr           Capability = "rx_intr"
	CapFilterCtrl       Capability = "filter_ctrl"
	CapTimesync         Capability = "timesync"
	CapRegisterDump     Capability = "reg_dump"
	CapEEPROM           Capability = "eeprom"
)

// supports reports whether ops implements the interface behind c
func supports(ops interface{}, c Capability) bool {
	if ops == nil {
		return false
	}
	var ok bool
	switch c {
	case CapDevInfo:
		_, ok = ops.(DevInfoer)
	case CapConfigure:
		_, ok = ops.(Configurer)
	case CapStart:
		_, ok = ops.(Starter)
	case CapStop:
		_, ok = ops.(Stopper)
	case CapClose:
		_, ok = ops.(Closer)
	case CapLinkUpDown:
		_, ok = ops.(LinkUpDowner)
	case CapRxQueueSetup:
		_, ok = ops.(RxQueueSetuper)
	case CapTxQueueSetup:
		_, ok = ops.(TxQueueSetuper)
	case CapRxQueueRelease:
		_, ok = ops.(RxQueueReleaser)
	case CapTxQueueRelease:
		_, ok = ops.(TxQueueReleaser)
	case CapRxQueueStartStop:
		_, ok = ops.(RxQueueStartStopper)
	case CapTxQueueStartStop:
		_, ok = ops.(TxQueueStartStopper)
	case CapPromiscuous:
		_, ok = ops.(PromiscuousSetter)
	case CapAllMulticast:
		_, ok = ops.(AllMulticastSetter)
	case CapLinkUpdate:
		_, ok = ops.(LinkUpdater)
	case CapStats:
		_, ok = ops.(StatsGetter)
	case CapStatsReset:
		_, ok = ops.(StatsResetter)
	case CapXStats:
		_, ok = ops.(XStatsGetter)
	case CapXStatsReset:
		_, ok = ops.(XStatsResetter)
	case CapQueueStatsMap:
		_, ok = ops.(QueueStatsMapper)
	case CapMTU:
		_, ok = ops.(MTUSetter)
	case CapVLANFilter:
		_, ok = ops.(VLANFilterSetter)
	case CapVLANStripQueue:
		_, ok = ops.(VLANStripQueueSetter)
	case CapVLANTPID:
		_, ok = ops.(VLANTPIDSetter)
	case CapVLANOffload:
		_, ok = ops.(VLANOffloadSetter)
	case CapVLANPVID:
		_, ok = ops.(VLANPVIDSetter)
	case CapFlowCtrlGet:
		_, ok = ops.(FlowCtrlGetter)
	case CapFlowCtrlSet:
		_, ok = ops.(FlowCtrlSetter)
	case CapPriorityFlowCtrl:
		_, ok = ops.(PriorityFlowCtrlSetter)
	case CapRETAUpdate:
		_, ok = ops.(RETAUpdater)
	case CapRETAQuery:
		_, ok = ops.(RETAQuerier)
	case CapRSSHashUpdate:
		_, ok = ops.(RSSHashUpdater)
	case CapRSSHashConf:
		_, ok = ops.(RSSHashConfGetter)
	case CapUDPTunnel:
		_, ok = ops.(UDPTunnelManager)
	case CapLED:
		_, ok = ops.(LEDController)
	case CapMACAddrAdd:
		_, ok = ops.(MACAddrAdder)
	case CapMACAddrRemove:
		_, ok = ops.(MACAddrRemover)
	case CapMACAddrSet:
		_, ok = ops.(MACAddrSetter)
	case CapUCHashTable:
		_, ok = ops.(UCHashTableSetter)
	case CapMCAddrList:
		_, ok = ops.(MCAddrListSetter)
	case CapVF:
		_, ok = ops.(VFController)
	case CapQueueRateLimit:
		_, ok = ops.(QueueRateLimiter)
	case CapVFRateLimit:
		_, ok = ops.(VFRateLimiter)
	case CapMirrorRule:
		_, ok = ops.(MirrorRuleManager)
	case CapRxQueueCount:
		_, ok = ops.(RxQueueCounter)
	case CapRxDescriptorDone:
		_, ok = ops.(RxDescriptorDoner)
	case CapRxIntr:
		_, ok = ops.(RxIntrController)
	case CapFilterCtrl:
		_, ok = ops.(FilterController)
	case CapTimesync:
		_, ok = ops.(Timesyncer)
	case CapRegisterDump:
		_, ok = ops.(RegisterDumper)
	case CapEEPROM:
		_, ok = ops.(EEPROMAccessor)
	}
	return ok
}
