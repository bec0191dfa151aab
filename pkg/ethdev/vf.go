package ethdev

import (
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// vfController returns the port's VF controller after checking vf against
// the number of VFs the driver reports
func (r *Registry) vfController(port PortID, op string, vf uint16) (*Device, VFController, error) {
	dev, err := r.device(port, op)
	if err != nil {
		return nil, nil, err
	}
	var info DevInfo
	if err := r.devInfo(dev, &info); err != nil {
		return nil, nil, newPortError(port, op, err, "")
	}
	if vf > info.MaxVFs {
		return nil, nil, newPortError(port, op, ErrInvalidArgument, "vf %d exceeds %d VFs", vf, info.MaxVFs)
	}
	vc, ok := dev.ops.(VFController)
	if !ok {
		return nil, nil, newPortError(port, op, ErrNotSupported, "")
	}
	return dev, vc, nil
}

// SetVFRxMode enables or disables the receive mode bits rxMode on a VF
func (r *Registry) SetVFRxMode(port PortID, vf uint16, rxMode uint16, on bool) error {
	const op = "set_vf_rxmode"
	if rxMode == 0 {
		return newPortError(port, op, ErrInvalidArgument, "empty receive mode")
	}
	dev, vc, err := r.vfController(port, op, vf)
	if err != nil {
		return err
	}
	if err := vc.SetVFRxMode(dev, vf, rxMode, on); err != nil {
		return newPortError(port, op, err, "vf %d", vf)
	}
	return nil
}

// SetVFRx enables or disables reception on a VF
func (r *Registry) SetVFRx(port PortID, vf uint16, on bool) error {
	const op = "set_vf_rx"
	dev, vc, err := r.vfController(port, op, vf)
	if err != nil {
		return err
	}
	if err := vc.SetVFRx(dev, vf, on); err != nil {
		return newPortError(port, op, err, "vf %d", vf)
	}
	return nil
}

// SetVFTx enables or disables transmission on a VF
func (r *Registry) SetVFTx(port PortID, vf uint16, on bool) error {
	const op = "set_vf_tx"
	dev, vc, err := r.vfController(port, op, vf)
	if err != nil {
		return err
	}
	if err := vc.SetVFTx(dev, vf, on); err != nil {
		return newPortError(port, op, err, "vf %d", vf)
	}
	return nil
}

// SetVFVLANFilter adds or removes vlanID from the VLAN filter of every VF
// in vfMask
func (r *Registry) SetVFVLANFilter(port PortID, vlanID uint16, vfMask uint64, on bool) error {
	const op = "set_vf_vlan_filter"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if vlanID > types.MaxVLANID {
		return newPortError(port, op, ErrInvalidArgument, "vlan id %d > %d", vlanID, types.MaxVLANID)
	}
	if vfMask == 0 {
		return newPortError(port, op, ErrInvalidArgument, "empty VF mask")
	}
	vc, ok := dev.ops.(VFController)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := vc.SetVFVLANFilter(dev, vlanID, vfMask, on); err != nil {
		return newPortError(port, op, err, "vlan %d", vlanID)
	}
	return nil
}

// SetQueueRateLimit caps a transmit queue at rate Mbps. The rate may not
// exceed the current link speed.
func (r *Registry) SetQueueRateLimit(port PortID, queueID uint16, rate uint16) error {
	const op = "set_queue_rate_limit"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	var info DevInfo
	if err := r.devInfo(dev, &info); err != nil {
		return newPortError(port, op, err, "")
	}
	link, err := r.LinkGetNowait(port)
	if err != nil {
		return err
	}
	if queueID > info.MaxTxQueues {
		return newPortError(port, op, ErrInvalidArgument, "queue %d exceeds %d", queueID, info.MaxTxQueues)
	}
	if uint32(rate) > link.Speed {
		return newPortError(port, op, ErrInvalidArgument, "rate %d above link speed %d", rate, link.Speed)
	}
	limiter, ok := dev.ops.(QueueRateLimiter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := limiter.SetQueueRateLimit(dev, queueID, rate); err != nil {
		return newPortError(port, op, err, "queue %d", queueID)
	}
	return nil
}

// SetVFRateLimit caps the queues of a VF selected by queueMask. An empty
// mask is a no-op.
func (r *Registry) SetVFRateLimit(port PortID, vf uint16, rate uint16, queueMask uint64) error {
	const op = "set_vf_rate_limit"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if queueMask == 0 {
		return nil
	}
	var info DevInfo
	if err := r.devInfo(dev, &info); err != nil {
		return newPortError(port, op, err, "")
	}
	link, err := r.LinkGetNowait(port)
	if err != nil {
		return err
	}
	if vf > info.MaxVFs {
		return newPortError(port, op, ErrInvalidArgument, "vf %d exceeds %d VFs", vf, info.MaxVFs)
	}
	if uint32(rate) > link.Speed {
		return newPortError(port, op, ErrInvalidArgument, "rate %d above link speed %d", rate, link.Speed)
	}
	limiter, ok := dev.ops.(VFRateLimiter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := limiter.SetVFRateLimit(dev, vf, rate, queueMask); err != nil {
		return newPortError(port, op, err, "vf %d", vf)
	}
	return nil
}

// MirrorRuleSet installs or removes a traffic mirroring rule
func (r *Registry) MirrorRuleSet(port PortID, conf *MirrorConf, ruleID uint8, on bool) error {
	const op = "mirror_rule_set"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if conf == nil || conf.RuleType == 0 {
		return newPortError(port, op, ErrInvalidArgument, "mirror rule type must be set")
	}
	if conf.DstPool >= types.VMDQPools64 {
		return newPortError(port, op, ErrInvalidArgument, "invalid destination pool %d", conf.DstPool)
	}
	if conf.RuleType&(MirrorVirtualPoolUp|MirrorVirtualPoolDown) != 0 && conf.PoolMask == 0 {
		return newPortError(port, op, ErrInvalidArgument, "pool mirroring needs a pool mask")
	}
	if conf.RuleType&MirrorVLAN != 0 && conf.VLANMask == 0 {
		return newPortError(port, op, ErrInvalidArgument, "VLAN mirroring needs a VLAN mask")
	}
	mgr, ok := dev.ops.(MirrorRuleManager)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := mgr.MirrorRuleSet(dev, conf, ruleID, on); err != nil {
		return newPortError(port, op, err, "rule %d", ruleID)
	}
	return nil
}

// MirrorRuleReset removes a mirroring rule
func (r *Registry) MirrorRuleReset(port PortID, ruleID uint8) error {
	const op = "mirror_rule_reset"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	mgr, ok := dev.ops.(MirrorRuleManager)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := mgr.MirrorRuleReset(dev, ruleID); err != nil {
		return newPortError(port, op, err, "rule %d", ruleID)
	}
	return nil
}
