package ring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

func ringState(t *testing.T, r *ethdev.Registry, port ethdev.PortID) *port {
	t.Helper()
	dev, err := r.Device(port)
	require.NoError(t, err)
	return portOf(dev)
}

func TestRETAAndRSS(t *testing.T) {
	r := newRegistry(t)
	conf := &ethdev.DevConf{}
	conf.RxMode.MQMode = ethdev.RxMQRSS
	conf.RxAdv.RSS.HashFunctions = ethdev.RSSIPv4
	port, _ := bringUp(t, r, "net_ring0,queues=4", 4, 16, conf)

	reta := make([]ethdev.RETAEntry64, 2)
	reta[0].Mask, reta[1].Mask = ^uint64(0), ^uint64(0)
	require.NoError(t, r.RETAQuery(port, reta, retaSize))
	assert.Equal(t, uint16(1), reta[0].RETA[1])
	assert.Equal(t, uint16(3), reta[1].RETA[63])

	update := make([]ethdev.RETAEntry64, 2)
	update[1].Mask = 1
	update[1].RETA[0] = 2
	require.NoError(t, r.RETAUpdate(port, update, retaSize))
	require.NoError(t, r.RETAQuery(port, reta, retaSize))
	assert.Equal(t, uint16(2), reta[1].RETA[0])
	assert.Equal(t, uint16(1), reta[1].RETA[1])

	err := r.RETAUpdate(port, []ethdev.RETAEntry64{{Mask: 1}}, 64)
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))

	key := make([]byte, rssKeySize)
	key[0] = 0x6d
	require.NoError(t, r.RSSHashUpdate(port, &ethdev.RSSConf{Key: key, HashFunctions: ethdev.RSSNonFragIPv4TCP}))
	got, err := r.RSSHashConfGet(port)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, ethdev.RSSNonFragIPv4TCP, got.HashFunctions)

	err = r.RSSHashUpdate(port, &ethdev.RSSConf{Key: []byte{1, 2}, HashFunctions: ethdev.RSSIPv4})
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))
}

func TestControlState(t *testing.T) {
	r := newRegistry(t)
	conf := &ethdev.DevConf{}
	conf.RxMode.HWVLANFilter = true
	conf.RxMode.HWVLANStrip = true
	port, _ := bringUp(t, r, "net_ring0", 1, 16, conf)
	require.NoError(t, r.Start(port))
	p := ringState(t, r, port)

	require.NoError(t, r.PromiscuousEnable(port))
	require.NoError(t, r.AllMulticastEnable(port))
	require.NoError(t, r.SetMTU(port, 9000))
	require.NoError(t, r.VLANFilter(port, 100, true))
	require.NoError(t, r.SetVLANOffload(port, ethdev.VLANStripOffload|ethdev.VLANFilterOffload))
	require.NoError(t, r.SetVLANPVID(port, 7, true))
	require.NoError(t, r.LEDOn(port))

	p.mu.Lock()
	assert.True(t, p.promisc)
	assert.True(t, p.allmulti)
	assert.Equal(t, uint16(9000), p.mtu)
	assert.NotZero(t, p.vlans[100/64]&(1<<(100%64)))
	assert.True(t, p.led)
	p.mu.Unlock()

	assert.Error(t, r.SetMTU(port, 9700))
	mtu, _ := r.MTU(port)
	assert.Equal(t, uint16(9000), mtu)

	regs := make([]uint32, regCount)
	info := &ethdev.RegInfo{Data: regs}
	require.NoError(t, r.RegInfo(port, info))
	assert.Equal(t, uint32(regCount), info.Length)
	assert.Equal(t, uint32(0x3f), regs[0], "admin up, carrier, promisc, allmulti, led, pvid")
	assert.Equal(t, uint32(9000), regs[1])

	sized := &ethdev.RegInfo{}
	require.NoError(t, r.RegInfo(port, sized))
	assert.Equal(t, uint32(regCount), sized.Length)

	require.NoError(t, r.FlowCtrlSet(port, &ethdev.FCConf{HighWater: 100, LowWater: 50, Mode: ethdev.FCFull}))
	fc, err := r.FlowCtrlGet(port)
	require.NoError(t, err)
	assert.Equal(t, ethdev.FCFull, fc.Mode)
	assert.Error(t, r.FlowCtrlSet(port, &ethdev.FCConf{HighWater: 10, LowWater: 50}))
	require.NoError(t, r.PriorityFlowCtrlSet(port, &ethdev.PFCConf{Priority: 3, FC: ethdev.FCConf{Mode: ethdev.FCRxPause}}))
}

func TestUDPTunnelRefcount(t *testing.T) {
	r := newRegistry(t)
	port, _ := bringUp(t, r, "net_ring0", 1, 16, nil)
	vxlan := ethdev.UDPTunnel{Port: 4789, Type: ethdev.TunnelVXLAN}

	require.NoError(t, r.UDPTunnelAdd(port, vxlan))
	require.NoError(t, r.UDPTunnelAdd(port, vxlan))
	require.NoError(t, r.UDPTunnelDelete(port, vxlan))
	require.NoError(t, r.UDPTunnelDelete(port, vxlan))
	err := r.UDPTunnelDelete(port, vxlan)
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))
}

func TestMACTables(t *testing.T) {
	r := newRegistry(t)
	port, _ := bringUp(t, r, "net_ring0,mac=02:00:00:00:00:01", 1, 16, nil)
	p := ringState(t, r, port)

	extra := util.EtherAddr{0x02, 0, 0, 0, 0, 0x02}
	require.NoError(t, r.MACAddrAdd(port, extra, 0))
	require.NoError(t, r.UCHashTableSet(port, util.EtherAddr{0x02, 0, 0, 0, 0, 0x03}, true))
	mc := []util.EtherAddr{{0x01, 0x00, 0x5e, 0, 0, 1}}
	require.NoError(t, r.SetMCAddrList(port, mc))

	next := util.EtherAddr{0x02, 0, 0, 0, 0, 0x10}
	require.NoError(t, r.DefaultMACAddrSet(port, next))

	p.mu.Lock()
	assert.Equal(t, extra, p.macs[1])
	assert.Equal(t, next, p.macs[0])
	assert.Len(t, p.ucHash, 1)
	assert.Equal(t, mc, p.mcList)
	p.mu.Unlock()

	require.NoError(t, r.UCAllHashTableSet(port, false))
	p.mu.Lock()
	assert.Empty(t, p.ucHash)
	p.mu.Unlock()

	// the EEPROM mirrors the station address
	buf := make([]byte, 6)
	require.NoError(t, r.GetEEPROM(port, &ethdev.EEPROMInfo{Data: buf, Length: 6}))
	assert.Equal(t, next[:], buf)
}

func TestEEPROM(t *testing.T) {
	r := newRegistry(t)
	port, _ := bringUp(t, r, "net_ring0", 1, 16, nil)

	n, err := r.EEPROMLength(port)
	require.NoError(t, err)
	assert.Equal(t, eepromSize, n)

	write := &ethdev.EEPROMInfo{Data: []byte{0xde, 0xad}, Offset: 100, Length: 2}
	err = r.SetEEPROM(port, write)
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument), "missing magic")

	write.Magic = eepromMagic
	require.NoError(t, r.SetEEPROM(port, write))

	read := &ethdev.EEPROMInfo{Data: make([]byte, 2), Offset: 100, Length: 2}
	require.NoError(t, r.GetEEPROM(port, read))
	assert.Equal(t, []byte{0xde, 0xad}, read.Data)
	assert.Equal(t, uint32(eepromMagic), read.Magic)

	err = r.GetEEPROM(port, &ethdev.EEPROMInfo{Data: make([]byte, 8), Offset: eepromSize - 4, Length: 8})
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))
}

func TestVFAndMirror(t *testing.T) {
	r := newRegistry(t)
	port, _ := bringUp(t, r, "net_ring0,vfs=4", 1, 16, nil)
	p := ringState(t, r, port)

	require.NoError(t, r.SetVFRxMode(port, 1, ethdev.VFAcceptBcast|ethdev.VFAcceptUntagged, true))
	require.NoError(t, r.SetVFRxMode(port, 1, ethdev.VFAcceptUntagged, false))
	require.NoError(t, r.SetVFRx(port, 2, true))
	require.NoError(t, r.SetVFTx(port, 2, true))
	require.NoError(t, r.SetVFVLANFilter(port, 42, 0b0101, true))
	require.NoError(t, r.SetVFRateLimit(port, 3, 1000, 0x3))
	require.NoError(t, r.SetQueueRateLimit(port, 0, 5000))

	// vf == MaxVFs passes the generic check but has no state
	err := r.SetVFRx(port, 4, true)
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))

	p.mu.Lock()
	assert.Equal(t, uint16(ethdev.VFAcceptBcast), p.vfs[1].rxMode)
	assert.True(t, p.vfs[2].rx && p.vfs[2].tx)
	assert.True(t, p.vfs[0].vlans[42])
	assert.False(t, p.vfs[1].vlans[42])
	assert.True(t, p.vfs[2].vlans[42])
	assert.Equal(t, uint16(1000), p.vfs[3].rate)
	assert.Equal(t, uint16(5000), p.queueRates[0])
	p.mu.Unlock()

	rule := &ethdev.MirrorConf{RuleType: ethdev.MirrorVirtualPoolUp, DstPool: 1, PoolMask: 0x2}
	require.NoError(t, r.MirrorRuleSet(port, rule, 0, true))
	err = r.MirrorRuleSet(port, rule, maxMirrorRules, true)
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))
	require.NoError(t, r.MirrorRuleReset(port, 0))
	p.mu.Lock()
	assert.Nil(t, p.mirrors[0])
	p.mu.Unlock()
}

func TestFilterCtrl(t *testing.T) {
	r := newRegistry(t)
	port, _ := bringUp(t, r, "net_ring0", 1, 16, nil)

	assert.NoError(t, r.FilterSupported(port, ethdev.FilterEtherType))
	assert.NoError(t, r.FilterSupported(port, ethdev.FilterMACVLAN))
	assert.True(t, errors.Is(r.FilterSupported(port, ethdev.FilterFDir), ethdev.ErrNotSupported))

	lldp := &EtherTypeFilter{EtherType: 0x88cc, Queue: 0}
	require.NoError(t, r.FilterCtrl(port, ethdev.FilterEtherType, ethdev.FilterAdd, lldp))
	err := r.FilterCtrl(port, ethdev.FilterEtherType, ethdev.FilterAdd, lldp)
	assert.True(t, errors.Is(err, ethdev.ErrAddressInUse))
	require.NoError(t, r.FilterCtrl(port, ethdev.FilterMACVLAN, ethdev.FilterAdd,
		&MACVLANFilter{MAC: util.EtherAddr{0x02, 0, 0, 0, 0, 1}, VLAN: 5}))

	err = r.FilterCtrl(port, ethdev.FilterMACVLAN, ethdev.FilterAdd, lldp)
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument), "wrong argument type for family")

	var count int
	require.NoError(t, r.FilterCtrl(port, ethdev.FilterEtherType, ethdev.FilterInfo, &count))
	assert.Equal(t, 1, count)

	require.NoError(t, r.FilterCtrl(port, ethdev.FilterEtherType, ethdev.FilterFlush, nil))
	require.NoError(t, r.FilterCtrl(port, ethdev.FilterEtherType, ethdev.FilterInfo, &count))
	assert.Equal(t, 0, count)
	require.NoError(t, r.FilterCtrl(port, ethdev.FilterMACVLAN, ethdev.FilterInfo, &count))
	assert.Equal(t, 1, count)
}

func TestTimesync(t *testing.T) {
	r := newRegistry(t)
	port, pool := bringUp(t, r, "net_ring0", 1, 16, nil)
	require.NoError(t, r.Start(port))

	_, err := r.TimesyncReadTxTimestamp(port)
	assert.Error(t, err)

	require.NoError(t, r.TimesyncEnable(port))
	r.TxBurst(port, 0, packets(t, pool, 1, "ptp"))
	rx := make([]*mbuf.Mbuf, 1)
	require.Equal(t, 1, r.RxBurst(port, 0, rx))

	txTS, err := r.TimesyncReadTxTimestamp(port)
	require.NoError(t, err)
	rxTS, err := r.TimesyncReadRxTimestamp(port, 0)
	require.NoError(t, err)
	assert.False(t, rxTS.Before(txTS))

	_, err = r.TimesyncReadRxTimestamp(port, 0)
	assert.Error(t, err, "timestamp is consumed by a read")
	require.NoError(t, r.TimesyncDisable(port))
}

func TestSRIOVFromVFs(t *testing.T) {
	r := newRegistry(t)
	port, err := r.Attach("net_ring0,queues=4,vfs=8")
	require.NoError(t, err)
	dev, err := r.Device(port)
	require.NoError(t, err)
	assert.Equal(t, ethdev.SRIOVState{Active: 16, QueuesPerPool: 8, DefaultVMDQIndex: 8, DefaultPoolQueueIndex: 64},
		dev.Data().SRIOV)
	assert.Equal(t, uint16(8), dev.BusDevice().MaxVFs)

	conf := &ethdev.DevConf{}
	conf.RxMode.MQMode = ethdev.RxMQRSS

	err = r.Configure(port, 3, 1, conf)
	assert.True(t, ethdev.IsValidation(err), "3 queues per pool: %v", err)

	require.NoError(t, r.Configure(port, 4, 4, conf))
	assert.Equal(t, ethdev.RxMQVMDQRSS, dev.Data().Conf.RxMode.MQMode)
	assert.Equal(t, ethdev.TxMQVMDQOnly, dev.Data().Conf.TxMode.MQMode)
	assert.Equal(t, ethdev.SRIOVState{Active: 32, QueuesPerPool: 4, DefaultVMDQIndex: 8, DefaultPoolQueueIndex: 32},
		dev.Data().SRIOV)

	err = r.Configure(port, 1, 1, &ethdev.DevConf{RxMode: ethdev.RxMode{MQMode: ethdev.RxMQDCB}})
	assert.True(t, ethdev.IsValidation(err))
}

func TestSRIOVMACReplayUsesDefaultPool(t *testing.T) {
	r := newRegistry(t)
	port, _ := bringUp(t, r, "net_ring0,vfs=8", 1, 16, nil)
	p := ringState(t, r, port)

	pfMAC := util.EtherAddr{0x02, 0, 0, 0, 0, 0x10}
	vfMAC := util.EtherAddr{0x02, 0, 0, 0, 0, 0x11}
	require.NoError(t, r.MACAddrAdd(port, pfMAC, 8))
	require.NoError(t, r.MACAddrAdd(port, vfMAC, 0))

	require.NoError(t, r.Start(port))
	require.NoError(t, r.Stop(port))
	p.mu.Lock()
	p.macPools = make(map[uint32]uint32)
	p.mu.Unlock()
	require.NoError(t, r.Start(port))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, map[uint32]uint32{1: 8}, p.macPools)
}
