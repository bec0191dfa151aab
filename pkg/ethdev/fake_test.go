package ethdev

import (
	"errors"
	"testing"
	"time"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

var errFake = errors.New("fake driver failure")

type fakeQueue struct {
	id int
}

// fakeOps records every driver call the core makes
type fakeOps struct {
	maxRx, maxTx uint16
	maxMACs      uint32
	maxVFs       uint16
	minRxBuf     uint32

	configureErr error
	startErr     error

	configures int
	starts     int
	stops      int
	closes     int

	rxReleased []Queue
	txReleased []Queue
	nextQueue  int

	macAdds     []uint32
	macRemoves  []uint32
	promiscOn   int
	promiscOff  int
	mtu         uint16
	vlanFilters map[uint16]bool
	offloadMask int
	linkUpdates int
	link        Link

	stats  Stats
	xstats []XStat
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		maxRx:       16,
		maxTx:       16,
		maxMACs:     4,
		minRxBuf:    256,
		vlanFilters: make(map[uint16]bool),
		link:        Link{Speed: LinkSpeed10G, Duplex: DuplexFull, Up: true},
	}
}

func (f *fakeOps) DevInfo(dev *Device, info *DevInfo) {
	info.MaxRxQueues = f.maxRx
	info.MaxTxQueues = f.maxTx
	info.MaxMACAddrs = f.maxMACs
	info.MaxVFs = f.maxVFs
	info.MinRxBufSize = f.minRxBuf
	info.MaxRxPktLen = 9600
}

func (f *fakeOps) Configure(dev *Device) error {
	f.configures++
	return f.configureErr
}

func (f *fakeOps) Start(dev *Device) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeOps) Stop(dev *Device)  { f.stops++ }
func (f *fakeOps) Close(dev *Device) { f.closes++ }

func (f *fakeOps) RxQueueSetup(dev *Device, queueID, nbDesc uint16, socketID int, conf *RxConf, pool PacketPool) error {
	f.nextQueue++
	dev.Data().RxQueues[queueID] = &fakeQueue{id: f.nextQueue}
	return nil
}

func (f *fakeOps) TxQueueSetup(dev *Device, queueID, nbDesc uint16, socketID int, conf *TxConf) error {
	f.nextQueue++
	dev.Data().TxQueues[queueID] = &fakeQueue{id: f.nextQueue}
	return nil
}

func (f *fakeOps) RxQueueRelease(q Queue) { f.rxReleased = append(f.rxReleased, q) }
func (f *fakeOps) TxQueueRelease(q Queue) { f.txReleased = append(f.txReleased, q) }

func (f *fakeOps) RxQueueStart(dev *Device, queueID uint16) error { return nil }
func (f *fakeOps) RxQueueStop(dev *Device, queueID uint16) error  { return nil }
func (f *fakeOps) TxQueueStart(dev *Device, queueID uint16) error { return nil }
func (f *fakeOps) TxQueueStop(dev *Device, queueID uint16) error  { return nil }

func (f *fakeOps) PromiscuousEnable(dev *Device)  { f.promiscOn++ }
func (f *fakeOps) PromiscuousDisable(dev *Device) { f.promiscOff++ }

func (f *fakeOps) LinkUpdate(dev *Device, wait bool) error {
	f.linkUpdates++
	dev.Data().SetLink(f.link)
	return nil
}

func (f *fakeOps) StatsGet(dev *Device, stats *Stats) { *stats = f.stats }
func (f *fakeOps) StatsReset(dev *Device)             { f.stats = Stats{} }

func (f *fakeOps) XStatsGet(dev *Device, out []XStat) (int, error) {
	if len(out) >= len(f.xstats) {
		copy(out, f.xstats)
	}
	return len(f.xstats), nil
}

func (f *fakeOps) SetMTU(dev *Device, mtu uint16) error {
	if mtu < 68 {
		return errFake
	}
	f.mtu = mtu
	return nil
}

func (f *fakeOps) VLANFilterSet(dev *Device, vlanID uint16, on bool) error {
	f.vlanFilters[vlanID] = on
	return nil
}

func (f *fakeOps) VLANOffloadSet(dev *Device, mask int) { f.offloadMask = mask }

func (f *fakeOps) MACAddrAdd(dev *Device, addr util.EtherAddr, index uint32, pool uint32) error {
	f.macAdds = append(f.macAdds, index)
	return nil
}

func (f *fakeOps) MACAddrRemove(dev *Device, index uint32) {
	f.macRemoves = append(f.macRemoves, index)
}

func (f *fakeOps) MACAddrSet(dev *Device, addr util.EtherAddr) {}

func (f *fakeOps) RETAUpdate(dev *Device, conf []RETAEntry64, retaSize uint16) error { return nil }

func (f *fakeOps) SetQueueRateLimit(dev *Device, queueID uint16, rate uint16) error { return nil }

func (f *fakeOps) TimesyncEnable(dev *Device) error  { return nil }
func (f *fakeOps) TimesyncDisable(dev *Device) error { return nil }
func (f *fakeOps) TimesyncReadRxTimestamp(dev *Device, flags uint32) (time.Time, error) {
	return time.Unix(1, 0), nil
}
func (f *fakeOps) TimesyncReadTxTimestamp(dev *Device) (time.Time, error) {
	return time.Unix(2, 0), nil
}

// minimalOps implements only what Configure needs
type minimalOps struct{}

func (minimalOps) DevInfo(dev *Device, info *DevInfo) {
	info.MaxRxQueues = 4
	info.MaxTxQueues = 4
}

func (minimalOps) Configure(dev *Device) error { return nil }

type testPool struct {
	room uint16
}

func (p testPool) Name() string         { return "test_pool" }
func (p testPool) DataRoomSize() uint16 { return p.room }

// newTestPort allocates a primary port driven by a fresh fakeOps
func newTestPort(name string) (*Registry, PortID, *fakeOps) {
	r := NewRegistry(eal.New(nil), nil)
	ops := newFakeOps()
	port := attachFake(r, name, ops)
	return r, port, ops
}

func attachFake(r *Registry, name string, ops interface{}) PortID {
	dev, err := r.Allocate(name, DeviceTypeVirtual)
	if err != nil {
		panic(err)
	}
	dev.driver = &Driver{Name: "net_fake", Kind: bus.KindVirtual}
	dev.data.MTU = 1500
	dev.data.AllocMACAddrs(4, 4)
	dev.SetOps(ops)
	dev.SetBurstFuncs(
		func(q Queue, pkts []*mbuf.Mbuf) int {
			n := len(pkts)
			if n > 2 {
				n = 2
			}
			return n
		},
		func(q Queue, pkts []*mbuf.Mbuf) int { return len(pkts) },
	)
	return dev.port
}

// configuredPort returns a port configured with nbRx/nbTx queues, every
// queue set up
func configuredPort(nbRx, nbTx uint16) (*Registry, PortID, *fakeOps) {
	r, port, ops := newTestPort("net_fake0")
	if err := r.Configure(port, nbRx, nbTx, &DevConf{}); err != nil {
		panic(err)
	}
	for q := uint16(0); q < nbRx; q++ {
		if err := r.RxQueueSetup(port, q, 128, 0, nil, testPool{room: 2176}); err != nil {
			panic(err)
		}
	}
	for q := uint16(0); q < nbTx; q++ {
		if err := r.TxQueueSetup(port, q, 128, 0, nil); err != nil {
			panic(err)
		}
	}
	return r, port, ops
}

func mustAddr(t testing.TB, s string) util.EtherAddr {
	t.Helper()
	a, err := util.ParseEtherAddr(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return a
}

func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}
