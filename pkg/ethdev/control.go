package ethdev

import (
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// DevInfo returns the driver-reported capabilities of a port
func (r *Registry) DevInfo(port PortID) (DevInfo, error) {
	dev, err := r.device(port, "dev_info")
	if err != nil {
		return DevInfo{}, err
	}
	var info DevInfo
	if err := r.devInfo(dev, &info); err != nil {
		return DevInfo{}, newPortError(port, "dev_info", err, "")
	}
	return info, nil
}

// MTU returns the configured MTU
func (r *Registry) MTU(port PortID) (uint16, error) {
	dev, err := r.device(port, "mtu")
	if err != nil {
		return 0, err
	}
	return dev.data.MTU, nil
}

// SetMTU changes the MTU. The stored value changes only if the driver
// accepts it.
func (r *Registry) SetMTU(port PortID, mtu uint16) error {
	const op = "set_mtu"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	setter, ok := dev.ops.(MTUSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.SetMTU(dev, mtu); err != nil {
		return newPortError(port, op, err, "mtu %d", mtu)
	}
	dev.data.MTU = mtu
	return nil
}

// PromiscuousEnable turns promiscuous mode on. The setting is replayed on
// every start.
func (r *Registry) PromiscuousEnable(port PortID) error {
	dev, err := r.device(port, "promiscuous_enable")
	if err != nil {
		return err
	}
	ps, ok := dev.ops.(PromiscuousSetter)
	if !ok {
		return newPortError(port, "promiscuous_enable", ErrNotSupported, "")
	}
	ps.PromiscuousEnable(dev)
	dev.data.Promiscuous = true
	return nil
}

// PromiscuousDisable turns promiscuous mode off
func (r *Registry) PromiscuousDisable(port PortID) error {
	dev, err := r.device(port, "promiscuous_disable")
	if err != nil {
		return err
	}
	ps, ok := dev.ops.(PromiscuousSetter)
	if !ok {
		return newPortError(port, "promiscuous_disable", ErrNotSupported, "")
	}
	dev.data.Promiscuous = false
	ps.PromiscuousDisable(dev)
	return nil
}

// Promiscuous reports the promiscuous setting
func (r *Registry) Promiscuous(port PortID) (bool, error) {
	dev, err := r.device(port, "promiscuous_get")
	if err != nil {
		return false, err
	}
	return dev.data.Promiscuous, nil
}

// AllMulticastEnable turns all-multicast reception on
func (r *Registry) AllMulticastEnable(port PortID) error {
	dev, err := r.device(port, "allmulticast_enable")
	if err != nil {
		return err
	}
	am, ok := dev.ops.(AllMulticastSetter)
	if !ok {
		return newPortError(port, "allmulticast_enable", ErrNotSupported, "")
	}
	am.AllMulticastEnable(dev)
	dev.data.AllMulticast = true
	return nil
}

// AllMulticastDisable turns all-multicast reception off
func (r *Registry) AllMulticastDisable(port PortID) error {
	dev, err := r.device(port, "allmulticast_disable")
	if err != nil {
		return err
	}
	am, ok := dev.ops.(AllMulticastSetter)
	if !ok {
		return newPortError(port, "allmulticast_disable", ErrNotSupported, "")
	}
	dev.data.AllMulticast = false
	am.AllMulticastDisable(dev)
	return nil
}

// AllMulticast reports the all-multicast setting
func (r *Registry) AllMulticast(port PortID) (bool, error) {
	dev, err := r.device(port, "allmulticast_get")
	if err != nil {
		return false, err
	}
	return dev.data.AllMulticast, nil
}

func (r *Registry) linkGet(port PortID, wait bool) (Link, error) {
	const op = "link_get"
	dev, err := r.device(port, op)
	if err != nil {
		return Link{}, err
	}
	if dev.data.Conf.Intr.LSC {
		return dev.data.Link(), nil
	}
	lu, ok := dev.ops.(LinkUpdater)
	if !ok {
		return Link{}, newPortError(port, op, ErrNotSupported, "")
	}
	if err := lu.LinkUpdate(dev, wait); err != nil {
		klog.V(4).Infof("Port %d link update: %v", port, err)
	}
	return dev.data.Link(), nil
}

// LinkGet returns the link status, waiting for the driver to settle it
// unless link state interrupts keep it current
func (r *Registry) LinkGet(port PortID) (Link, error) {
	return r.linkGet(port, true)
}

// LinkGetNowait returns the link status without waiting
func (r *Registry) LinkGetNowait(port PortID) (Link, error) {
	return r.linkGet(port, false)
}

// VLANFilter adds or removes vlanID in the hardware VLAN filter. Filtering
// must be enabled in the port configuration.
func (r *Registry) VLANFilter(port PortID, vlanID uint16, on bool) error {
	const op = "vlan_filter"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if !dev.data.Conf.RxMode.HWVLANFilter {
		return newPortError(port, op, ErrFeatureDisabled, "VLAN filtering disabled")
	}
	if vlanID > types.MaxVLANID {
		return newPortError(port, op, ErrInvalidArgument, "vlan id %d > %d", vlanID, types.MaxVLANID)
	}
	setter, ok := dev.ops.(VLANFilterSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.VLANFilterSet(dev, vlanID, on); err != nil {
		return newPortError(port, op, err, "vlan %d", vlanID)
	}
	return nil
}

// SetVLANStripOnQueue toggles VLAN stripping on one receive queue
func (r *Registry) SetVLANStripOnQueue(port PortID, queueID uint16, on bool) error {
	const op = "vlan_strip_queue"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if queueID >= dev.data.NbRxQueues() {
		return newPortError(port, op, ErrInvalidArgument, "invalid rx queue %d", queueID)
	}
	setter, ok := dev.ops.(VLANStripQueueSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	setter.VLANStripQueueSet(dev, queueID, on)
	return nil
}

// SetVLANEtherType sets the outer VLAN TPID
func (r *Registry) SetVLANEtherType(port PortID, tpid uint16) error {
	const op = "vlan_tpid"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	setter, ok := dev.ops.(VLANTPIDSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.VLANTPIDSet(dev, tpid); err != nil {
		return newPortError(port, op, err, "tpid %#04x", tpid)
	}
	return nil
}

// SetVLANOffload applies the strip/filter/extend bits of offloadMask. Only
// settings that change are passed to the driver; no change is a no-op.
func (r *Registry) SetVLANOffload(port PortID, offloadMask int) error {
	const op = "vlan_offload"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	rx := &dev.data.Conf.RxMode
	mask := 0

	if cur := offloadMask&VLANStripOffload != 0; cur != rx.HWVLANStrip {
		rx.HWVLANStrip = cur
		mask |= VLANStripMask
	}
	if cur := offloadMask&VLANFilterOffload != 0; cur != rx.HWVLANFilter {
		rx.HWVLANFilter = cur
		mask |= VLANFilterMask
	}
	if cur := offloadMask&VLANExtendOffload != 0; cur != rx.HWVLANExtend {
		rx.HWVLANExtend = cur
		mask |= VLANExtendMask
	}
	if mask == 0 {
		return nil
	}

	setter, ok := dev.ops.(VLANOffloadSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	setter.VLANOffloadSet(dev, mask)
	return nil
}

// VLANOffload returns the current strip/filter/extend offload bits
func (r *Registry) VLANOffload(port PortID) (int, error) {
	dev, err := r.device(port, "vlan_offload_get")
	if err != nil {
		return 0, err
	}
	rx := dev.data.Conf.RxMode
	ret := 0
	if rx.HWVLANStrip {
		ret |= VLANStripOffload
	}
	if rx.HWVLANFilter {
		ret |= VLANFilterOffload
	}
	if rx.HWVLANExtend {
		ret |= VLANExtendOffload
	}
	return ret, nil
}

// SetVLANPVID sets the port VLAN id used for untagged traffic
func (r *Registry) SetVLANPVID(port PortID, pvid uint16, on bool) error {
	const op = "vlan_pvid"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	setter, ok := dev.ops.(VLANPVIDSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.VLANPVIDSet(dev, pvid, on); err != nil {
		return newPortError(port, op, err, "pvid %d", pvid)
	}
	return nil
}

// FlowCtrlGet returns the link flow control settings
func (r *Registry) FlowCtrlGet(port PortID) (FCConf, error) {
	const op = "flow_ctrl_get"
	dev, err := r.device(port, op)
	if err != nil {
		return FCConf{}, err
	}
	getter, ok := dev.ops.(FlowCtrlGetter)
	if !ok {
		return FCConf{}, newPortError(port, op, ErrNotSupported, "")
	}
	var conf FCConf
	if err := getter.FlowCtrlGet(dev, &conf); err != nil {
		return FCConf{}, newPortError(port, op, err, "")
	}
	return conf, nil
}

// FlowCtrlSet applies link flow control settings
func (r *Registry) FlowCtrlSet(port PortID, conf *FCConf) error {
	const op = "flow_ctrl_set"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if conf == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil flow control configuration")
	}
	setter, ok := dev.ops.(FlowCtrlSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.FlowCtrlSet(dev, conf); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

// PriorityFlowCtrlSet applies priority flow control for one user priority
func (r *Registry) PriorityFlowCtrlSet(port PortID, conf *PFCConf) error {
	const op = "priority_flow_ctrl_set"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if conf == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil priority flow control configuration")
	}
	if conf.Priority > types.MaxUserPriority {
		return newPortError(port, op, ErrInvalidArgument, "priority %d, only 0-%d allowed",
			conf.Priority, types.MaxUserPriority)
	}
	setter, ok := dev.ops.(PriorityFlowCtrlSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.PriorityFlowCtrlSet(dev, conf); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

// checkRETAMask requires a table size that is a multiple of the group size
// and at least one selected entry
func checkRETAMask(conf []RETAEntry64, retaSize uint16) bool {
	if retaSize%types.RETAGroupSize != 0 {
		return false
	}
	num := int(retaSize / types.RETAGroupSize)
	if len(conf) < num {
		return false
	}
	for i := 0; i < num; i++ {
		if conf[i].Mask != 0 {
			return true
		}
	}
	return false
}

// checkRETAEntries requires every selected entry to name an existing queue
func checkRETAEntries(conf []RETAEntry64, retaSize uint16, nbRx uint16) bool {
	if nbRx == 0 {
		return false
	}
	for i := 0; i < int(retaSize); i++ {
		idx := i / types.RETAGroupSize
		shift := i % types.RETAGroupSize
		if conf[idx].Mask&(uint64(1)<<shift) != 0 && conf[idx].RETA[shift] >= nbRx {
			return false
		}
	}
	return true
}

// RETAUpdate programs the RSS redirection table entries selected by each
// group's mask
func (r *Registry) RETAUpdate(port PortID, conf []RETAEntry64, retaSize uint16) error {
	const op = "reta_update"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if !checkRETAMask(conf, retaSize) {
		return newPortError(port, op, ErrInvalidArgument,
			"reta size %d must be a multiple of %d with a non-empty mask", retaSize, types.RETAGroupSize)
	}
	if !checkRETAEntries(conf, retaSize, dev.data.NbRxQueues()) {
		return newPortError(port, op, ErrInvalidArgument,
			"reta entries must be below %d rx queues", dev.data.NbRxQueues())
	}
	updater, ok := dev.ops.(RETAUpdater)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := updater.RETAUpdate(dev, conf, retaSize); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

// RETAQuery reads the RSS redirection table entries selected by each
// group's mask
func (r *Registry) RETAQuery(port PortID, conf []RETAEntry64, retaSize uint16) error {
	const op = "reta_query"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if !checkRETAMask(conf, retaSize) {
		return newPortError(port, op, ErrInvalidArgument,
			"reta size %d must be a multiple of %d with a non-empty mask", retaSize, types.RETAGroupSize)
	}
	querier, ok := dev.ops.(RETAQuerier)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := querier.RETAQuery(dev, conf, retaSize); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

// RSSHashUpdate changes the RSS key and hashed protocols. A non-zero
// protocol set must include at least one known protocol.
func (r *Registry) RSSHashUpdate(port PortID, conf *RSSConf) error {
	const op = "rss_hash_update"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if conf == nil {
		return newPortError(port, op, ErrInvalidArgument, "nil RSS configuration")
	}
	if conf.HashFunctions != 0 && conf.HashFunctions&RSSProtoMask == 0 {
		return newPortError(port, op, ErrInvalidArgument, "invalid RSS protocols %#x", conf.HashFunctions)
	}
	updater, ok := dev.ops.(RSSHashUpdater)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := updater.RSSHashUpdate(dev, conf); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

// RSSHashConfGet returns the RSS key and hashed protocols
func (r *Registry) RSSHashConfGet(port PortID) (RSSConf, error) {
	const op = "rss_hash_conf_get"
	dev, err := r.device(port, op)
	if err != nil {
		return RSSConf{}, err
	}
	getter, ok := dev.ops.(RSSHashConfGetter)
	if !ok {
		return RSSConf{}, newPortError(port, op, ErrNotSupported, "")
	}
	var conf RSSConf
	if err := getter.RSSHashConfGet(dev, &conf); err != nil {
		return RSSConf{}, newPortError(port, op, err, "")
	}
	return conf, nil
}

func (r *Registry) udpTunnel(port PortID, tunnel UDPTunnel, add bool) error {
	op := "udp_tunnel_del"
	if add {
		op = "udp_tunnel_add"
	}
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if tunnel.Type < TunnelNone || tunnel.Type >= tunnelTypeMax {
		return newPortError(port, op, ErrInvalidArgument, "invalid tunnel type %d", tunnel.Type)
	}
	mgr, ok := dev.ops.(UDPTunnelManager)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if add {
		err = mgr.UDPTunnelAdd(dev, tunnel)
	} else {
		err = mgr.UDPTunnelDel(dev, tunnel)
	}
	if err != nil {
		return newPortError(port, op, err, "udp port %d", tunnel.Port)
	}
	return nil
}

// UDPTunnelAdd registers a UDP destination port as a tunnel endpoint
func (r *Registry) UDPTunnelAdd(port PortID, tunnel UDPTunnel) error {
	return r.udpTunnel(port, tunnel, true)
}

// UDPTunnelDelete removes a UDP tunnel endpoint port
func (r *Registry) UDPTunnelDelete(port PortID, tunnel UDPTunnel) error {
	return r.udpTunnel(port, tunnel, false)
}

// LEDOn turns the port identification LED on
func (r *Registry) LEDOn(port PortID) error {
	dev, err := r.device(port, "led_on")
	if err != nil {
		return err
	}
	led, ok := dev.ops.(LEDController)
	if !ok {
		return newPortError(port, "led_on", ErrNotSupported, "")
	}
	if err := led.LEDOn(dev); err != nil {
		return newPortError(port, "led_on", err, "")
	}
	return nil
}

// LEDOff turns the port identification LED off
func (r *Registry) LEDOff(port PortID) error {
	dev, err := r.device(port, "led_off")
	if err != nil {
		return err
	}
	led, ok := dev.ops.(LEDController)
	if !ok {
		return newPortError(port, "led_off", ErrNotSupported, "")
	}
	if err := led.LEDOff(dev); err != nil {
		return newPortError(port, "led_off", err, "")
	}
	return nil
}
