package ethdev

import (
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

func macIndex(table []util.EtherAddr, addr util.EtherAddr) int {
	for i, a := range table {
		if a == addr {
			return i
		}
	}
	return -1
}

// MACAddr returns the default MAC address of a port
func (r *Registry) MACAddr(port PortID) (util.EtherAddr, error) {
	dev, err := r.device(port, "mac_addr")
	if err != nil {
		return util.EtherAddr{}, err
	}
	if len(dev.data.MACAddrs) == 0 {
		return util.EtherAddr{}, nil
	}
	return dev.data.MACAddrs[0], nil
}

// MACAddrs returns a copy of the unicast address table and pool masks
func (r *Registry) MACAddrs(port PortID) ([]util.EtherAddr, []uint64, error) {
	dev, err := r.device(port, "mac_addrs")
	if err != nil {
		return nil, nil, err
	}
	addrs := append([]util.EtherAddr(nil), dev.data.MACAddrs...)
	pools := append([]uint64(nil), dev.data.MACPoolSel...)
	return addrs, pools, nil
}

// MACAddrAdd adds addr to the port's unicast table for pool. An address
// already present for the same pool is accepted without touching the
// driver.
//
// Returns:
//   - error: ErrInvalidArgument for a zero address or pool >= 64,
//     ErrNoSpace when the table is full
func (r *Registry) MACAddrAdd(port PortID, addr util.EtherAddr, pool uint32) error {
	const op = "mac_addr_add"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	adder, ok := dev.ops.(MACAddrAdder)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if addr.IsZero() {
		return newPortError(port, op, ErrInvalidArgument, "zero MAC address")
	}
	if pool >= types.VMDQPools64 {
		return newPortError(port, op, ErrInvalidArgument, "pool %d must be below %d", pool, types.VMDQPools64)
	}

	data := dev.data
	index := macIndex(data.MACAddrs, addr)
	if index < 0 {
		index = macIndex(data.MACAddrs, util.EtherAddr{})
		if index < 0 {
			return newPortError(port, op, ErrNoSpace, "MAC address table full")
		}
	} else if data.MACPoolSel[index]&(uint64(1)<<pool) != 0 {
		return nil
	}

	if err := adder.MACAddrAdd(dev, addr, uint32(index), pool); err != nil {
		return newPortError(port, op, err, "%s", addr)
	}
	data.MACAddrs[index] = addr
	data.MACPoolSel[index] |= uint64(1) << pool

	klog.V(4).Infof("Port %d added MAC %s at index %d pool %d", port, addr, index, pool)
	return nil
}

// MACAddrRemove removes addr from the unicast table. The default address
// (index 0) cannot be removed; an unknown address is ignored.
func (r *Registry) MACAddrRemove(port PortID, addr util.EtherAddr) error {
	const op = "mac_addr_remove"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	remover, ok := dev.ops.(MACAddrRemover)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}

	data := dev.data
	index := macIndex(data.MACAddrs, addr)
	if index == 0 {
		return newPortError(port, op, ErrAddressInUse, "cannot remove default MAC address")
	}
	if index < 0 {
		return nil
	}

	remover.MACAddrRemove(dev, uint32(index))
	data.MACAddrs[index] = util.EtherAddr{}
	data.MACPoolSel[index] = 0

	klog.V(4).Infof("Port %d removed MAC %s from index %d", port, addr, index)
	return nil
}

// DefaultMACAddrSet replaces the default address. addr must be a valid
// assigned (unicast, non-zero) address.
func (r *Registry) DefaultMACAddrSet(port PortID, addr util.EtherAddr) error {
	const op = "default_mac_addr_set"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if !addr.IsValidAssigned() {
		return newPortError(port, op, ErrInvalidArgument, "%s is not a valid assigned address", addr)
	}
	setter, ok := dev.ops.(MACAddrSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if len(dev.data.MACAddrs) == 0 {
		return newPortError(port, op, ErrNoSpace, "port has no MAC address table")
	}

	dev.data.MACAddrs[0] = addr
	setter.MACAddrSet(dev, addr)
	return nil
}

// UCHashTableSet adds (on) or removes addr in the unicast hash filter
func (r *Registry) UCHashTableSet(port PortID, addr util.EtherAddr, on bool) error {
	const op = "uc_hash_table_set"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if addr.IsZero() {
		return newPortError(port, op, ErrInvalidArgument, "zero MAC address")
	}

	data := dev.data
	index := -1
	if data.HashMACAddrs != nil {
		index = macIndex(data.HashMACAddrs, addr)
	}
	if index >= 0 && on {
		return nil
	}
	if index < 0 {
		if !on {
			return newPortError(port, op, ErrInvalidArgument, "%s is not in the hash table", addr)
		}
		if data.HashMACAddrs != nil {
			index = macIndex(data.HashMACAddrs, util.EtherAddr{})
		}
		if index < 0 {
			return newPortError(port, op, ErrNoSpace, "hash MAC table full")
		}
	}

	setter, ok := dev.ops.(UCHashTableSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.UCHashTableSet(dev, addr, on); err != nil {
		return newPortError(port, op, err, "%s", addr)
	}
	if on {
		data.HashMACAddrs[index] = addr
	} else {
		data.HashMACAddrs[index] = util.EtherAddr{}
	}
	return nil
}

// UCAllHashTableSet sets or clears every unicast hash filter bit
func (r *Registry) UCAllHashTableSet(port PortID, on bool) error {
	const op = "uc_all_hash_table_set"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	setter, ok := dev.ops.(UCHashTableSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	if err := setter.UCAllHashTableSet(dev, on); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}

// SetMCAddrList replaces the multicast filter list. Every address must be
// multicast.
func (r *Registry) SetMCAddrList(port PortID, addrs []util.EtherAddr) error {
	const op = "set_mc_addr_list"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	setter, ok := dev.ops.(MCAddrListSetter)
	if !ok {
		return newPortError(port, op, ErrNotSupported, "")
	}
	for _, a := range addrs {
		if !a.IsMulticast() {
			return newPortError(port, op, ErrInvalidArgument, "%s is not a multicast address", a)
		}
	}
	if err := setter.SetMCAddrList(dev, addrs); err != nil {
		return newPortError(port, op, err, "")
	}
	return nil
}
