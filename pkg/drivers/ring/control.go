package ring

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

// EtherTypeFilter steers frames of one ethertype to a queue
type EtherTypeFilter struct {
	EtherType uint16
	Queue     uint16
	Drop      bool
}

// MACVLANFilter matches a destination MAC and VLAN pair
type MACVLANFilter struct {
	MAC  util.EtherAddr
	VLAN uint16
}

func (p *port) PromiscuousEnable(dev *ethdev.Device) {
	p.mu.Lock()
	p.promisc = true
	p.mu.Unlock()
}

func (p *port) PromiscuousDisable(dev *ethdev.Device) {
	p.mu.Lock()
	p.promisc = false
	p.mu.Unlock()
}

func (p *port) AllMulticastEnable(dev *ethdev.Device) {
	p.mu.Lock()
	p.allmulti = true
	p.mu.Unlock()
}

func (p *port) AllMulticastDisable(dev *ethdev.Device) {
	p.mu.Lock()
	p.allmulti = false
	p.mu.Unlock()
}

func (p *port) SetMTU(dev *ethdev.Device, mtu uint16) error {
	if mtu < minMTU || uint32(mtu)+types.EtherMaxLen-types.EtherMTU > maxRxPktLen {
		return fmt.Errorf("mtu %d out of range: %w", mtu, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	p.mtu = mtu
	p.mu.Unlock()
	return nil
}

func (p *port) VLANFilterSet(dev *ethdev.Device, vlanID uint16, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	word, bit := vlanID/64, uint64(1)<<(vlanID%64)
	if on {
		p.vlans[word] |= bit
	} else {
		p.vlans[word] &^= bit
	}
	return nil
}

func (p *port) VLANStripQueueSet(dev *ethdev.Device, queueID uint16, on bool) {
	p.mu.Lock()
	p.vlanStripQ[queueID] = on
	p.mu.Unlock()
}

func (p *port) VLANTPIDSet(dev *ethdev.Device, tpid uint16) error {
	p.mu.Lock()
	p.tpid = tpid
	p.mu.Unlock()
	return nil
}

func (p *port) VLANOffloadSet(dev *ethdev.Device, mask int) {
	rxMode := dev.Data().Conf.RxMode

	p.mu.Lock()
	defer p.mu.Unlock()
	set := func(bit int, on bool) {
		if mask&bit == 0 {
			return
		}
		if on {
			p.vlanOffload |= bit
		} else {
			p.vlanOffload &^= bit
		}
	}
	set(ethdev.VLANStripMask, rxMode.HWVLANStrip)
	set(ethdev.VLANFilterMask, rxMode.HWVLANFilter)
	set(ethdev.VLANExtendMask, rxMode.HWVLANExtend)
}

func (p *port) VLANPVIDSet(dev *ethdev.Device, pvid uint16, on bool) error {
	p.mu.Lock()
	p.pvid, p.pvidOn = pvid, on
	p.mu.Unlock()
	return nil
}

func (p *port) FlowCtrlGet(dev *ethdev.Device, conf *ethdev.FCConf) error {
	p.mu.Lock()
	*conf = p.fc
	p.mu.Unlock()
	return nil
}

func (p *port) FlowCtrlSet(dev *ethdev.Device, conf *ethdev.FCConf) error {
	if conf.HighWater != 0 && conf.LowWater >= conf.HighWater {
		return fmt.Errorf("low water %d not below high water %d: %w",
			conf.LowWater, conf.HighWater, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	p.fc = *conf
	p.mu.Unlock()
	return nil
}

func (p *port) PriorityFlowCtrlSet(dev *ethdev.Device, conf *ethdev.PFCConf) error {
	p.mu.Lock()
	p.pfc[conf.Priority] = conf.FC
	p.mu.Unlock()
	return nil
}

func (p *port) RETAUpdate(dev *ethdev.Device, conf []ethdev.RETAEntry64, size uint16) error {
	if size != retaSize {
		return fmt.Errorf("reta size %d, device has %d: %w", size, retaSize, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < retaSize; i++ {
		grp, shift := i/types.RETAGroupSize, i%types.RETAGroupSize
		if conf[grp].Mask&(uint64(1)<<shift) != 0 {
			p.reta[i] = conf[grp].RETA[shift]
		}
	}
	return nil
}

func (p *port) RETAQuery(dev *ethdev.Device, conf []ethdev.RETAEntry64, size uint16) error {
	if size != retaSize {
		return fmt.Errorf("reta size %d, device has %d: %w", size, retaSize, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < retaSize; i++ {
		grp, shift := i/types.RETAGroupSize, i%types.RETAGroupSize
		if conf[grp].Mask&(uint64(1)<<shift) != 0 {
			conf[grp].RETA[shift] = p.reta[i]
		}
	}
	return nil
}

func (p *port) RSSHashUpdate(dev *ethdev.Device, conf *ethdev.RSSConf) error {
	if len(conf.Key) != 0 && len(conf.Key) != rssKeySize {
		return fmt.Errorf("rss key of %d bytes, want %d: %w", len(conf.Key), rssKeySize, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(conf.Key) != 0 {
		p.rss.Key = append([]byte(nil), conf.Key...)
	}
	p.rss.HashFunctions = conf.HashFunctions
	return nil
}

func (p *port) RSSHashConfGet(dev *ethdev.Device, conf *ethdev.RSSConf) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	conf.Key = append([]byte(nil), p.rss.Key...)
	conf.HashFunctions = p.rss.HashFunctions
	return nil
}

func (p *port) UDPTunnelAdd(dev *ethdev.Device, tunnel ethdev.UDPTunnel) error {
	p.mu.Lock()
	p.tunnels[tunnel]++
	p.mu.Unlock()
	return nil
}

func (p *port) UDPTunnelDel(dev *ethdev.Device, tunnel ethdev.UDPTunnel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.tunnels[tunnel]
	if !ok {
		return fmt.Errorf("udp port %d not registered: %w", tunnel.Port, ethdev.ErrInvalidArgument)
	}
	if n == 1 {
		delete(p.tunnels, tunnel)
	} else {
		p.tunnels[tunnel] = n - 1
	}
	return nil
}

func (p *port) LEDOn(dev *ethdev.Device) error {
	p.mu.Lock()
	p.led = true
	p.mu.Unlock()
	return nil
}

func (p *port) LEDOff(dev *ethdev.Device) error {
	p.mu.Lock()
	p.led = false
	p.mu.Unlock()
	return nil
}

func (p *port) MACAddrAdd(dev *ethdev.Device, addr util.EtherAddr, index uint32, pool uint32) error {
	p.mu.Lock()
	p.macs[index] = addr
	p.macPools[index] = pool
	p.mu.Unlock()
	return nil
}

func (p *port) MACAddrRemove(dev *ethdev.Device, index uint32) {
	p.mu.Lock()
	delete(p.macs, index)
	delete(p.macPools, index)
	p.mu.Unlock()
}

func (p *port) MACAddrSet(dev *ethdev.Device, addr util.EtherAddr) {
	p.mu.Lock()
	p.macs[0] = addr
	copy(p.eeprom[:], addr[:])
	p.mu.Unlock()
}

func (p *port) UCHashTableSet(dev *ethdev.Device, addr util.EtherAddr, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.ucHash[addr] = true
	} else {
		delete(p.ucHash, addr)
	}
	return nil
}

func (p *port) UCAllHashTableSet(dev *ethdev.Device, on bool) error {
	p.mu.Lock()
	p.ucAllHash = on
	if !on {
		p.ucHash = make(map[util.EtherAddr]bool)
	}
	p.mu.Unlock()
	return nil
}

func (p *port) SetMCAddrList(dev *ethdev.Device, addrs []util.EtherAddr) error {
	if len(addrs) > maxHashMACAddrs {
		return fmt.Errorf("%d multicast addresses: %w", len(addrs), ethdev.ErrNoSpace)
	}
	p.mu.Lock()
	p.mcList = append([]util.EtherAddr(nil), addrs...)
	p.mu.Unlock()
	return nil
}

func (p *port) vf(vf uint16) (*vfState, error) {
	if int(vf) >= len(p.vfs) {
		return nil, fmt.Errorf("vf %d of %d: %w", vf, len(p.vfs), ethdev.ErrInvalidArgument)
	}
	return &p.vfs[vf], nil
}

func (p *port) SetVFRxMode(dev *ethdev.Device, vf uint16, rxMode uint16, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.vf(vf)
	if err != nil {
		return err
	}
	if on {
		s.rxMode |= rxMode
	} else {
		s.rxMode &^= rxMode
	}
	return nil
}

func (p *port) SetVFRx(dev *ethdev.Device, vf uint16, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.vf(vf)
	if err != nil {
		return err
	}
	s.rx = on
	return nil
}

func (p *port) SetVFTx(dev *ethdev.Device, vf uint16, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.vf(vf)
	if err != nil {
		return err
	}
	s.tx = on
	return nil
}

func (p *port) SetVFVLANFilter(dev *ethdev.Device, vlanID uint16, vfMask uint64, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.vfs {
		if i >= 64 || vfMask&(uint64(1)<<i) == 0 {
			continue
		}
		if on {
			p.vfs[i].vlans[vlanID] = true
		} else {
			delete(p.vfs[i].vlans, vlanID)
		}
	}
	return nil
}

func (p *port) SetQueueRateLimit(dev *ethdev.Device, queueID uint16, txRate uint16) error {
	p.mu.Lock()
	p.queueRates[queueID] = txRate
	p.mu.Unlock()
	return nil
}

func (p *port) SetVFRateLimit(dev *ethdev.Device, vf uint16, txRate uint16, queueMask uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.vf(vf)
	if err != nil {
		return err
	}
	s.rate, s.qmask = txRate, queueMask
	return nil
}

func (p *port) MirrorRuleSet(dev *ethdev.Device, conf *ethdev.MirrorConf, ruleID uint8, on bool) error {
	if int(ruleID) >= maxMirrorRules {
		return fmt.Errorf("mirror rule %d: %w", ruleID, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !on {
		p.mirrors[ruleID] = nil
		return nil
	}
	c := *conf
	p.mirrors[ruleID] = &c
	return nil
}

func (p *port) MirrorRuleReset(dev *ethdev.Device, ruleID uint8) error {
	if int(ruleID) >= maxMirrorRules {
		return fmt.Errorf("mirror rule %d: %w", ruleID, ethdev.ErrInvalidArgument)
	}
	p.mu.Lock()
	p.mirrors[ruleID] = nil
	p.mu.Unlock()
	return nil
}

func (p *port) RxQueueCount(dev *ethdev.Device, queueID uint16) (uint32, error) {
	q := p.rxQueue(queueID)
	if q == nil {
		return 0, ethdev.ErrInvalidArgument
	}
	return uint32(q.used()), nil
}

func (p *port) RxDescriptorDone(q ethdev.Queue, offset uint16) (bool, error) {
	rxq, ok := q.(*rxQueue)
	if !ok {
		return false, ethdev.ErrInvalidArgument
	}
	if int(offset) >= len(rxq.fifo) {
		return false, fmt.Errorf("offset %d beyond ring of %d: %w", offset, len(rxq.fifo), ethdev.ErrInvalidArgument)
	}
	return rxq.descriptorDone(offset), nil
}

func (p *port) RxQueueIntrEnable(dev *ethdev.Device, queueID uint16) error {
	q := p.rxQueue(queueID)
	if q == nil {
		return ethdev.ErrInvalidArgument
	}
	q.intr.Store(true)
	return nil
}

func (p *port) RxQueueIntrDisable(dev *ethdev.Device, queueID uint16) error {
	q := p.rxQueue(queueID)
	if q == nil {
		return ethdev.ErrInvalidArgument
	}
	q.intr.Store(false)
	return nil
}

// FilterCtrl supports the ethertype and MAC/VLAN families. FilterInfo
// writes the number of installed filters of the family to an *int.
func (p *port) FilterCtrl(dev *ethdev.Device, filterType ethdev.FilterType, op ethdev.FilterOp, arg interface{}) error {
	if filterType != ethdev.FilterEtherType && filterType != ethdev.FilterMACVLAN {
		return ethdev.ErrNotSupported
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch op {
	case ethdev.FilterNop:
		return nil
	case ethdev.FilterAdd, ethdev.FilterDelete:
		key, err := filterKey(filterType, arg)
		if err != nil {
			return err
		}
		_, present := p.filters[key]
		if op == ethdev.FilterAdd {
			if present {
				return fmt.Errorf("filter %+v exists: %w", key, ethdev.ErrAddressInUse)
			}
			p.filters[key] = struct{}{}
			return nil
		}
		if !present {
			return fmt.Errorf("filter %+v not found: %w", key, ethdev.ErrInvalidArgument)
		}
		delete(p.filters, key)
		return nil
	case ethdev.FilterFlush:
		for key := range p.filters {
			if filterFamily(key) == filterType {
				delete(p.filters, key)
			}
		}
		return nil
	case ethdev.FilterInfo:
		out, ok := arg.(*int)
		if !ok || out == nil {
			return ethdev.ErrInvalidArgument
		}
		*out = 0
		for key := range p.filters {
			if filterFamily(key) == filterType {
				*out++
			}
		}
		return nil
	default:
		return ethdev.ErrNotSupported
	}
}

func filterKey(filterType ethdev.FilterType, arg interface{}) (interface{}, error) {
	switch f := arg.(type) {
	case *EtherTypeFilter:
		if filterType == ethdev.FilterEtherType && f != nil {
			return *f, nil
		}
	case *MACVLANFilter:
		if filterType == ethdev.FilterMACVLAN && f != nil {
			return *f, nil
		}
	}
	return nil, fmt.Errorf("filter argument %T for type %d: %w", arg, filterType, ethdev.ErrInvalidArgument)
}

func filterFamily(key interface{}) ethdev.FilterType {
	if _, ok := key.(MACVLANFilter); ok {
		return ethdev.FilterMACVLAN
	}
	return ethdev.FilterEtherType
}

func (p *port) TimesyncEnable(dev *ethdev.Device) error {
	p.rxStamp.Store(0)
	p.txStamp.Store(0)
	p.timesync.Store(true)
	return nil
}

func (p *port) TimesyncDisable(dev *ethdev.Device) error {
	p.timesync.Store(false)
	return nil
}

// TimesyncReadRxTimestamp returns and clears the latched receive timestamp
func (p *port) TimesyncReadRxTimestamp(dev *ethdev.Device, flags uint32) (time.Time, error) {
	ns := p.rxStamp.Swap(0)
	if ns == 0 {
		return time.Time{}, fmt.Errorf("no rx timestamp latched: %w", ethdev.ErrInvalidArgument)
	}
	return time.Unix(0, ns), nil
}

// TimesyncReadTxTimestamp returns and clears the latched transmit timestamp
func (p *port) TimesyncReadTxTimestamp(dev *ethdev.Device) (time.Time, error) {
	ns := p.txStamp.Swap(0)
	if ns == 0 {
		return time.Time{}, fmt.Errorf("no tx timestamp latched: %w", ethdev.ErrInvalidArgument)
	}
	return time.Unix(0, ns), nil
}

// registers renders the port state as a register file
func (p *port) registers(dev *ethdev.Device) [regCount]uint32 {
	var regs [regCount]uint32
	p.mu.Lock()
	defer p.mu.Unlock()

	var ctrl uint32
	for bit, on := range []bool{p.adminUp, p.carrier, p.promisc, p.allmulti, p.led, p.pvidOn} {
		if on {
			ctrl |= 1 << bit
		}
	}
	regs[0] = ctrl
	regs[1] = uint32(p.mtu)
	regs[2] = uint32(dev.Data().NbRxQueues())
	regs[3] = uint32(dev.Data().NbTxQueues())
	regs[4] = uint32(p.tpid)
	regs[5] = uint32(p.pvid)
	regs[6] = uint32(p.vlanOffload)
	mac := p.macs[0]
	regs[7] = binary.BigEndian.Uint32(mac[:4])
	regs[8] = uint32(binary.BigEndian.Uint16(mac[4:]))
	for i := 0; i < retaSize/2 && 16+i < regCount; i++ {
		regs[16+i] = uint32(p.reta[2*i])<<16 | uint32(p.reta[2*i+1])
	}
	return regs
}

func (p *port) RegLength(dev *ethdev.Device) (int, error) {
	return regCount, nil
}

// RegInfo dumps registers. A request without Data only reports the size.
func (p *port) RegInfo(dev *ethdev.Device, info *ethdev.RegInfo) error {
	info.Width = 4
	info.Version = 1
	if info.Data == nil {
		info.Length = regCount
		return nil
	}
	length := info.Length
	if length == 0 {
		length = regCount - info.Offset
	}
	if info.Offset > regCount || length > regCount-info.Offset || uint32(len(info.Data)) < length {
		return fmt.Errorf("register range %d+%d: %w", info.Offset, length, ethdev.ErrInvalidArgument)
	}
	regs := p.registers(dev)
	copy(info.Data, regs[info.Offset:info.Offset+length])
	info.Length = length
	return nil
}

func (p *port) EEPROMLength(dev *ethdev.Device) (int, error) {
	return eepromSize, nil
}

func eepromRange(info *ethdev.EEPROMInfo) error {
	if info.Offset > eepromSize || info.Length > eepromSize-info.Offset || uint32(len(info.Data)) < info.Length {
		return fmt.Errorf("eeprom range %d+%d: %w", info.Offset, info.Length, ethdev.ErrInvalidArgument)
	}
	return nil
}

func (p *port) GetEEPROM(dev *ethdev.Device, info *ethdev.EEPROMInfo) error {
	if err := eepromRange(info); err != nil {
		return err
	}
	p.mu.Lock()
	copy(info.Data, p.eeprom[info.Offset:info.Offset+info.Length])
	p.mu.Unlock()
	info.Magic = eepromMagic
	return nil
}

func (p *port) SetEEPROM(dev *ethdev.Device, info *ethdev.EEPROMInfo) error {
	if info.Magic != eepromMagic {
		return fmt.Errorf("eeprom magic %#x: %w", info.Magic, ethdev.ErrInvalidArgument)
	}
	if err := eepromRange(info); err != nil {
		return err
	}
	p.mu.Lock()
	copy(p.eeprom[info.Offset:], info.Data[:info.Length])
	p.mu.Unlock()
	return nil
}
