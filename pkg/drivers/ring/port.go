package ring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/logging"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

const (
	defaultNbDesc = 512
	maxRxPktLen   = 9618
	minMTU        = 68

	linkPollInterval = 10 * time.Millisecond

	// linkWaitSlack is added to the configured link delay when waiting for
	// the carrier
	linkWaitSlack = time.Second
)

type vfState struct {
	rxMode uint16
	rx     bool
	tx     bool
	vlans  map[uint16]bool
	rate   uint16
	qmask  uint64
}

// port is the private state of one ring port
type port struct {
	dev  *ethdev.Device
	args Args
	log  *logging.Logger

	linkChanges  atomic.Uint64
	eventsRaised atomic.Uint64
	timesync     atomic.Bool
	rxStamp      atomic.Int64
	txStamp      atomic.Int64

	mu           sync.Mutex
	closed       bool
	adminUp      bool
	carrier      bool
	carrierTimer *time.Timer

	mtu         uint16
	promisc     bool
	allmulti    bool
	vlans       [(types.MaxVLANID + 1) / 64]uint64
	vlanStripQ  map[uint16]bool
	vlanOffload int
	tpid        uint16
	pvid        uint16
	pvidOn      bool

	fc  ethdev.FCConf
	pfc [types.MaxUserPriority + 1]ethdev.FCConf

	reta    [retaSize]uint16
	rss     ethdev.RSSConf
	tunnels map[ethdev.UDPTunnel]int
	led     bool

	macs      map[uint32]util.EtherAddr
	macPools  map[uint32]uint32
	ucHash    map[util.EtherAddr]bool
	ucAllHash bool
	mcList    []util.EtherAddr

	vfs        []vfState
	queueRates map[uint16]uint16
	mirrors    [maxMirrorRules]*ethdev.MirrorConf
	filters    map[interface{}]struct{}
	eeprom     [eepromSize]byte
}

func newPort(dev *ethdev.Device, args Args) *port {
	p := &port{
		dev:        dev,
		args:       args,
		log:        logging.LoggerForPort(uint16(dev.Port()), dev.Name()).WithName(types.DriverNameRing),
		mtu:        types.EtherMTU,
		tpid:       0x8100,
		vlanStripQ: make(map[uint16]bool),
		tunnels:    make(map[ethdev.UDPTunnel]int),
		macs:       map[uint32]util.EtherAddr{0: args.MAC},
		macPools:   make(map[uint32]uint32),
		ucHash:     make(map[util.EtherAddr]bool),
		vfs:        make([]vfState, args.VFs),
		queueRates: make(map[uint16]uint16),
		filters:    make(map[interface{}]struct{}),
	}
	for i := range p.vfs {
		p.vfs[i].vlans = make(map[uint16]bool)
	}
	copy(p.eeprom[:], args.MAC[:])
	dev.Data().SetLink(p.linkLocked())
	return p
}

// rxQueue returns receive queue id or nil when it is not set up
func (p *port) rxQueue(id uint16) *rxQueue {
	queues := p.dev.Data().RxQueues
	if int(id) >= len(queues) {
		return nil
	}
	q, _ := queues[id].(*rxQueue)
	return q
}

func (p *port) txQueue(id uint16) *txQueue {
	queues := p.dev.Data().TxQueues
	if int(id) >= len(queues) {
		return nil
	}
	q, _ := queues[id].(*txQueue)
	return q
}

func (p *port) raise(ev ethdev.EventType) {
	p.eventsRaised.Add(1)
	if err := p.dev.Registry().ProcessEvent(p.dev.Port(), ev); err != nil {
		p.log.Debug("Event dropped", "event", ev.String(), "error", err.Error())
	}
}

func (p *port) stampRx() {
	if p.timesync.Load() {
		p.rxStamp.Store(time.Now().UnixNano())
	}
}

func (p *port) stampTx() {
	if p.timesync.Load() {
		p.txStamp.Store(time.Now().UnixNano())
	}
}

func (p *port) linkLocked() ethdev.Link {
	return ethdev.Link{
		Speed:  ethdev.LinkSpeed10G,
		Duplex: ethdev.DuplexFull,
		Up:     p.carrier,
	}
}

func (p *port) carrierUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.carrier
}

// setAdminState changes the administrative link state. The carrier follows
// after the configured link delay.
func (p *port) setAdminState(up bool) {
	p.mu.Lock()
	p.adminUp = up
	if p.carrierTimer != nil {
		p.carrierTimer.Stop()
		p.carrierTimer = nil
	}
	if up && p.args.LinkDelay > 0 {
		p.carrierTimer = time.AfterFunc(p.args.LinkDelay, p.carrierSettled)
		p.mu.Unlock()
		return
	}
	p.carrier = up
	p.mu.Unlock()
	p.publishLink()
}

func (p *port) carrierSettled() {
	p.mu.Lock()
	p.carrierTimer = nil
	if p.adminUp {
		p.carrier = true
	}
	p.mu.Unlock()
	p.publishLink()
}

// publishLink stores the current link record and raises a link state change
// event when it changed and the port was configured for link interrupts
func (p *port) publishLink() {
	if !p.syncLink() {
		return
	}
	p.log.Info("Link changed", "link", p.dev.Data().Link().String())
	if p.dev.Data().Conf.Intr.LSC {
		p.raise(ethdev.EventLinkStateChange)
	}
}

func (p *port) syncLink() bool {
	p.mu.Lock()
	link := p.linkLocked()
	p.mu.Unlock()
	if p.dev.Data().SetLink(link) {
		p.linkChanges.Add(1)
		return true
	}
	return false
}

func (p *port) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.adminUp = false
	p.carrier = false
	if p.carrierTimer != nil {
		p.carrierTimer.Stop()
		p.carrierTimer = nil
	}
	p.mu.Unlock()
	p.syncLink()
}

func (p *port) DevInfo(dev *ethdev.Device, info *ethdev.DevInfo) {
	info.MinRxBufSize = 64
	info.MaxRxPktLen = maxRxPktLen
	info.MaxRxQueues = p.args.Queues
	info.MaxTxQueues = p.args.Queues
	info.MaxMACAddrs = maxMACAddrs
	info.MaxHashMACAddrs = maxHashMACAddrs
	info.MaxVFs = p.args.VFs
	info.RETASize = retaSize
	info.HashKeySize = rssKeySize
	info.FlowTypeRSSOffloads = ethdev.RSSProtoMask
	info.DefaultRxConf = ethdev.RxConf{FreeThresh: 32}
	info.DefaultTxConf = ethdev.TxConf{RSThresh: 32, FreeThresh: 32}
}

func (p *port) Configure(dev *ethdev.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ethdev.ErrClosed
	}

	data := dev.Data()
	rss := data.Conf.RxMode.MQMode == ethdev.RxMQRSS || data.Conf.RxMode.MQMode == ethdev.RxMQVMDQRSS
	if rss && data.NbRxQueues() > 0 {
		for i := range p.reta {
			p.reta[i] = uint16(i) % data.NbRxQueues()
		}
	}
	p.rss = ethdev.RSSConf{
		Key:           append([]byte(nil), data.Conf.RxAdv.RSS.Key...),
		HashFunctions: data.Conf.RxAdv.RSS.HashFunctions,
	}
	return nil
}

func (p *port) Start(dev *ethdev.Device) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ethdev.ErrClosed
	}
	p.setAdminState(true)
	return nil
}

func (p *port) Stop(dev *ethdev.Device) {
	p.setAdminState(false)
}

func (p *port) Close(dev *ethdev.Device) {
	for _, q := range dev.Data().RxQueues {
		if rxq, ok := q.(*rxQueue); ok {
			rxq.drain()
		}
	}
	p.shutdown()
}

func (p *port) SetLinkUp(dev *ethdev.Device) error {
	p.setAdminState(true)
	return nil
}

func (p *port) SetLinkDown(dev *ethdev.Device) error {
	p.setAdminState(false)
	return nil
}

// LinkUpdate refreshes the link record. With waitToComplete it polls until
// a pending carrier comes up.
func (p *port) LinkUpdate(dev *ethdev.Device, waitToComplete bool) error {
	p.mu.Lock()
	pending := p.adminUp && !p.carrier
	p.mu.Unlock()

	var err error
	if waitToComplete && pending {
		err = wait.PollUntilContextTimeout(context.Background(), linkPollInterval,
			p.args.LinkDelay+linkWaitSlack, true,
			func(ctx context.Context) (bool, error) {
				return p.carrierUp(), nil
			})
		if err != nil {
			err = fmt.Errorf("link did not come up: %w", err)
		}
	}
	p.syncLink()
	return err
}

func (p *port) RxQueueSetup(dev *ethdev.Device, queueID, nbDesc uint16, socketID int, conf *ethdev.RxConf, pool ethdev.PacketPool) error {
	if nbDesc == 0 {
		nbDesc = defaultNbDesc
	}
	q := newRxQueue(p, queueID, nbDesc, pool)
	q.stopped = conf != nil && conf.DeferredStart
	dev.Data().RxQueues[queueID] = q
	return nil
}

func (p *port) TxQueueSetup(dev *ethdev.Device, queueID, nbDesc uint16, socketID int, conf *ethdev.TxConf) error {
	q := &txQueue{port: p, id: queueID}
	q.stopped.Store(conf != nil && conf.DeferredStart)
	dev.Data().TxQueues[queueID] = q
	return nil
}

func (p *port) RxQueueRelease(q ethdev.Queue) {
	if rxq, ok := q.(*rxQueue); ok {
		rxq.drain()
	}
}

func (p *port) TxQueueRelease(q ethdev.Queue) {}

func (p *port) RxQueueStart(dev *ethdev.Device, queueID uint16) error {
	q := p.rxQueue(queueID)
	if q == nil {
		return ethdev.ErrInvalidArgument
	}
	q.setStopped(false)
	return nil
}

func (p *port) RxQueueStop(dev *ethdev.Device, queueID uint16) error {
	q := p.rxQueue(queueID)
	if q == nil {
		return ethdev.ErrInvalidArgument
	}
	q.setStopped(true)
	return nil
}

func (p *port) TxQueueStart(dev *ethdev.Device, queueID uint16) error {
	q := p.txQueue(queueID)
	if q == nil {
		return ethdev.ErrInvalidArgument
	}
	q.stopped.Store(false)
	return nil
}

func (p *port) TxQueueStop(dev *ethdev.Device, queueID uint16) error {
	q := p.txQueue(queueID)
	if q == nil {
		return ethdev.ErrInvalidArgument
	}
	q.stopped.Store(true)
	return nil
}

func (p *port) StatsGet(dev *ethdev.Device, stats *ethdev.Stats) {
	data := dev.Data()
	for i := uint16(0); i < data.NbRxQueues(); i++ {
		q := p.rxQueue(i)
		if q == nil {
			continue
		}
		pkts, bytes := q.stats.packets.Load(), q.stats.bytes.Load()
		stats.IPackets += pkts
		stats.IBytes += bytes
		if i < types.QueueStatCounters {
			stats.QIPackets[i] = pkts
			stats.QIBytes[i] = bytes
		}
	}
	for i := uint16(0); i < data.NbTxQueues(); i++ {
		q := p.txQueue(i)
		if q == nil {
			continue
		}
		pkts, bytes, errs := q.stats.packets.Load(), q.stats.bytes.Load(), q.stats.errors.Load()
		stats.OPackets += pkts
		stats.OBytes += bytes
		stats.OErrors += errs
		if i < types.QueueStatCounters {
			stats.QOPackets[i] = pkts
			stats.QOBytes[i] = bytes
			stats.QErrors[i] = errs
		}
	}
}

func (p *port) StatsReset(dev *ethdev.Device) {
	for _, q := range dev.Data().RxQueues {
		if rxq, ok := q.(*rxQueue); ok {
			rxq.stats.reset()
		}
	}
	for _, q := range dev.Data().TxQueues {
		if txq, ok := q.(*txQueue); ok {
			txq.stats.reset()
		}
	}
}

var xstatNames = []string{"link_status_changes", "events_raised"}

func (p *port) XStatsGet(dev *ethdev.Device, xstats []ethdev.XStat) (int, error) {
	values := []uint64{p.linkChanges.Load(), p.eventsRaised.Load()}
	for i := 0; i < len(xstats) && i < len(values); i++ {
		xstats[i] = ethdev.XStat{Name: xstatNames[i], Value: values[i]}
	}
	return len(values), nil
}

func (p *port) XStatsReset(dev *ethdev.Device) {
	p.linkChanges.Store(0)
	p.eventsRaised.Store(0)
	p.StatsReset(dev)
}
