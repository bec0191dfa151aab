//go:build linux

package netdev

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

var testMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}

// fakeNetlink keeps interfaces in memory
type fakeNetlink struct {
	mu        sync.Mutex
	links     map[string]*netlink.Dummy
	transient int

	updates chan<- netlink.LinkUpdate
}

func newFakeNetlink() *fakeNetlink {
	return &fakeNetlink{
		links: map[string]*netlink.Dummy{
			"eth0": {LinkAttrs: netlink.LinkAttrs{
				Index:        7,
				Name:         "eth0",
				MTU:          1500,
				HardwareAddr: testMAC,
				RawFlags:     unix.IFF_PROMISC,
				OperState:    netlink.OperDown,
				Statistics:   &netlink.LinkStatistics{RxPackets: 100, TxPackets: 50},
			}},
		},
	}
}

func (f *fakeNetlink) LinkByName(name string) (netlink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transient > 0 {
		f.transient--
		return nil, unix.EAGAIN
	}
	l, ok := f.links[name]
	if !ok {
		return nil, unix.ENODEV
	}
	return l, nil
}

func (f *fakeNetlink) LinkByIndex(index int) (netlink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.Index == index {
			cp := *l
			if l.Statistics != nil {
				stats := *l.Statistics
				cp.Statistics = &stats
			}
			return &cp, nil
		}
	}
	return nil, unix.ENODEV
}

func (f *fakeNetlink) update(link netlink.Link, fn func(a *netlink.LinkAttrs)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[link.Attrs().Name]
	if !ok {
		return unix.ENODEV
	}
	fn(&l.LinkAttrs)
	return nil
}

func (f *fakeNetlink) LinkSetUp(link netlink.Link) error {
	return f.update(link, func(a *netlink.LinkAttrs) {
		a.RawFlags |= unix.IFF_UP | unix.IFF_RUNNING
		a.OperState = netlink.OperUp
	})
}

func (f *fakeNetlink) LinkSetDown(link netlink.Link) error {
	return f.update(link, func(a *netlink.LinkAttrs) {
		a.RawFlags &^= unix.IFF_UP | unix.IFF_RUNNING
		a.OperState = netlink.OperDown
	})
}

func (f *fakeNetlink) SetPromiscOn(link netlink.Link) error {
	return f.update(link, func(a *netlink.LinkAttrs) { a.RawFlags |= unix.IFF_PROMISC })
}

func (f *fakeNetlink) SetPromiscOff(link netlink.Link) error {
	return f.update(link, func(a *netlink.LinkAttrs) { a.RawFlags &^= unix.IFF_PROMISC })
}

func (f *fakeNetlink) LinkSetAllmulticastOn(link netlink.Link) error {
	return f.update(link, func(a *netlink.LinkAttrs) { a.RawFlags |= unix.IFF_ALLMULTI })
}

func (f *fakeNetlink) LinkSetAllmulticastOff(link netlink.Link) error {
	return f.update(link, func(a *netlink.LinkAttrs) { a.RawFlags &^= unix.IFF_ALLMULTI })
}

func (f *fakeNetlink) LinkSetMTU(link netlink.Link, mtu int) error {
	if mtu > 9000 {
		return unix.EINVAL
	}
	return f.update(link, func(a *netlink.LinkAttrs) { a.MTU = mtu })
}

func (f *fakeNetlink) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	return f.update(link, func(a *netlink.LinkAttrs) { a.HardwareAddr = hwaddr })
}

func (f *fakeNetlink) attrs(name string) netlink.LinkAttrs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[name].LinkAttrs
}

func (f *fakeNetlink) subscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}, onErr func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = ch
	return nil
}

// carrier changes the operational state and notifies the subscriber
func (f *fakeNetlink) carrier(name string, up bool) {
	f.mu.Lock()
	l := f.links[name]
	if up {
		l.OperState = netlink.OperUp
	} else {
		l.OperState = netlink.OperDown
	}
	cp := *l
	ch := f.updates
	f.mu.Unlock()
	if ch != nil {
		ch <- netlink.LinkUpdate{Link: &cp}
	}
}

type testEnv struct {
	r    *ethdev.Registry
	nl   *fakeNetlink
	peer int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sysfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sysfs, "eth0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sysfs, "eth0", "speed"), []byte("25000\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sysfs, "eth0", "duplex"), []byte("full\n"), 0644))

	env := &testEnv{nl: newFakeNetlink(), peer: -1}
	b := &backend{
		nl:        env.nl,
		subscribe: env.nl.subscribe,
		openSocket: func(ifindex int) (int, error) {
			fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
			if err != nil {
				return -1, err
			}
			env.peer = fds[1]
			t.Cleanup(func() { _ = unix.Close(fds[1]) })
			return fds[0], nil
		},
		sysfsRoot: sysfs,
		linkWait:  200 * time.Millisecond,
	}
	env.r = ethdev.NewRegistry(eal.New(nil), bus.NewMemoryBus())
	require.NoError(t, env.r.RegisterDriver(newDriver(b)))
	return env
}

func (e *testEnv) bringUp(t *testing.T, conf *ethdev.DevConf) (ethdev.PortID, *mbuf.Pool) {
	t.Helper()
	port, err := e.r.Attach("net_kernel0,iface=eth0")
	require.NoError(t, err)
	require.NoError(t, e.r.Configure(port, 1, 1, conf))
	pool, err := mbuf.NewPool("netdev_test", 16, 2176)
	require.NoError(t, err)
	require.NoError(t, e.r.RxQueueSetup(port, 0, 64, 0, nil, pool))
	require.NoError(t, e.r.TxQueueSetup(port, 0, 64, 0, nil))
	return port, pool
}

func TestInitReadsInterface(t *testing.T) {
	env := newTestEnv(t)
	env.nl.transient = 2

	port, err := env.r.Attach("net_kernel0,iface=eth0")
	require.NoError(t, err)

	mac, err := env.r.MACAddr(port)
	require.NoError(t, err)
	assert.Equal(t, util.FromHardwareAddr(testMAC), mac)
	mtu, _ := env.r.MTU(port)
	assert.Equal(t, uint16(1500), mtu)
	promisc, _ := env.r.Promiscuous(port)
	assert.True(t, promisc)

	info, err := env.r.DevInfo(port)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), info.MaxRxQueues)
	assert.Equal(t, "net_kernel", info.DriverName)
}

func TestInitMissingInterface(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.r.Attach("net_kernel0,iface=eth9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ethdev.ErrNoSuchDevice))
	assert.Equal(t, 0, env.r.Count())

	_, err = env.r.Attach("net_kernel1")
	assert.True(t, errors.Is(err, ethdev.ErrInvalidArgument))
}

func TestStartBringsLinkUp(t *testing.T) {
	env := newTestEnv(t)
	port, _ := env.bringUp(t, &ethdev.DevConf{})

	link, err := env.r.LinkGetNowait(port)
	require.NoError(t, err)
	assert.False(t, link.Up)

	require.NoError(t, env.r.Start(port))
	link, err = env.r.LinkGet(port)
	require.NoError(t, err)
	assert.True(t, link.Up)
	assert.Equal(t, ethdev.LinkSpeed25G, link.Speed)
	assert.Equal(t, ethdev.DuplexFull, link.Duplex)

	require.NoError(t, env.r.SetLinkDown(port))
	assert.Zero(t, env.nl.attrs("eth0").RawFlags&unix.IFF_UP)
	// the wait gives up after the configured timeout and reports the link
	link, err = env.r.LinkGet(port)
	require.NoError(t, err)
	assert.False(t, link.Up)
}

func TestLinkStateChangeEvents(t *testing.T) {
	env := newTestEnv(t)
	port, _ := env.bringUp(t, &ethdev.DevConf{Intr: ethdev.IntrConf{LSC: true}})

	var events atomic.Int32
	require.NoError(t, env.r.RegisterEventCallback(port, ethdev.EventLinkStateChange,
		func(ethdev.PortID, ethdev.EventType, interface{}) { events.Add(1) }, nil))

	require.NoError(t, env.r.Start(port))
	assert.Equal(t, int32(1), events.Load())

	env.nl.carrier("eth0", false)
	require.Eventually(t, func() bool { return events.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	link, err := env.r.LinkGet(port)
	require.NoError(t, err)
	assert.False(t, link.Up)

	env.nl.carrier("eth0", true)
	require.Eventually(t, func() bool { return events.Load() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.r.Stop(port))
}

func TestPacketIO(t *testing.T) {
	env := newTestEnv(t)
	port, pool := env.bringUp(t, &ethdev.DevConf{})
	require.NoError(t, env.r.Start(port))

	rx := make([]*mbuf.Mbuf, 4)
	assert.Equal(t, 0, env.r.RxBurst(port, 0, rx))

	frame := []byte("\xff\xff\xff\xff\xff\xff\x02\x42\xac\x11\x00\x02\x08\x06arp")
	_, err := unix.Write(env.peer, frame)
	require.NoError(t, err)
	n := env.r.RxBurst(port, 0, rx)
	require.Equal(t, 1, n)
	assert.Equal(t, frame, rx[0].Data())
	assert.Equal(t, uint16(port), rx[0].Port)

	assert.Equal(t, 1, env.r.TxBurst(port, 0, rx[:1]))
	buf := make([]byte, 128)
	nr, err := unix.Read(env.peer, buf)
	require.NoError(t, err)
	assert.Equal(t, frame, buf[:nr])
	assert.Equal(t, pool.Size(), pool.Available())

	stats, err := env.r.StatsGet(port)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.QIPackets[0])
	assert.Equal(t, uint64(1), stats.QOPackets[0])
}

func TestQueueSetupAgain(t *testing.T) {
	env := newTestEnv(t)
	pid, pool := env.bringUp(t, &ethdev.DevConf{})
	dev, err := env.r.Device(pid)
	require.NoError(t, err)
	p := dev.Private().(*port)
	oldRx, oldTx := dev.Data().RxQueues[0], dev.Data().TxQueues[0]

	require.NoError(t, env.r.RxQueueSetup(pid, 0, 64, 0, nil, pool))
	require.NoError(t, env.r.TxQueueSetup(pid, 0, 64, 0, nil))
	assert.NotSame(t, oldRx, dev.Data().RxQueues[0])
	assert.NotSame(t, oldTx, dev.Data().TxQueues[0])

	p.mu.Lock()
	assert.Same(t, p.rxq, dev.Data().RxQueues[0])
	assert.Same(t, p.txq, dev.Data().TxQueues[0])
	p.mu.Unlock()
}

func TestKernelStats(t *testing.T) {
	env := newTestEnv(t)
	port, _ := env.bringUp(t, &ethdev.DevConf{})

	err := env.nl.update(&netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}}, func(a *netlink.LinkAttrs) {
		a.Statistics = &netlink.LinkStatistics{RxPackets: 130, TxPackets: 55, RxDropped: 4}
	})
	require.NoError(t, err)

	stats, err := env.r.StatsGet(port)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), stats.IPackets)
	assert.Equal(t, uint64(5), stats.OPackets)

	xstats := make([]ethdev.XStat, 64)
	n, err := env.r.XStatsGet(port, xstats)
	require.NoError(t, err)
	found := false
	for _, x := range xstats[:n] {
		if x.Name == "rx_dropped" {
			found = true
			assert.Equal(t, uint64(4), x.Value)
		}
	}
	assert.True(t, found)

	require.NoError(t, env.r.StatsReset(port))
	stats, _ = env.r.StatsGet(port)
	assert.Zero(t, stats.IPackets)
}

func TestControlOps(t *testing.T) {
	env := newTestEnv(t)
	port, _ := env.bringUp(t, &ethdev.DevConf{})

	require.NoError(t, env.r.PromiscuousDisable(port))
	assert.Zero(t, env.nl.attrs("eth0").RawFlags&unix.IFF_PROMISC)
	require.NoError(t, env.r.AllMulticastEnable(port))
	assert.NotZero(t, env.nl.attrs("eth0").RawFlags&unix.IFF_ALLMULTI)

	require.NoError(t, env.r.SetMTU(port, 9000))
	assert.Equal(t, 9000, env.nl.attrs("eth0").MTU)
	assert.Error(t, env.r.SetMTU(port, 9100))
	mtu, _ := env.r.MTU(port)
	assert.Equal(t, uint16(9000), mtu)

	addr := util.EtherAddr{0x02, 0, 0, 0, 0, 0x33}
	require.NoError(t, env.r.DefaultMACAddrSet(port, addr))
	assert.Equal(t, addr.HardwareAddr(), env.nl.attrs("eth0").HardwareAddr)

	assert.False(t, env.r.Supports(port, ethdev.CapVLANFilter))
}

func TestDecodeFlags(t *testing.T) {
	f := decodeFlags(unix.IFF_UP | unix.IFF_ALLMULTI)
	assert.True(t, f.up)
	assert.False(t, f.running)
	assert.False(t, f.promisc)
	assert.True(t, f.allmulti)
}
