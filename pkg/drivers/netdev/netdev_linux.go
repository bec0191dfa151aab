//go:build linux

package netdev

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/logging"
	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
	"github.com/jiayi-1994/zstack-ethdev/pkg/util"
)

const (
	sysClassNet = "/sys/class/net"

	// defaultLinkWait bounds a wait-to-complete link update
	defaultLinkWait  = 9 * time.Second
	linkPollInterval = 100 * time.Millisecond

	maxNetlinkRetries = 5
)

// Netlink is the subset of *netlink.Handle the driver uses
type Netlink interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	SetPromiscOn(link netlink.Link) error
	SetPromiscOff(link netlink.Link) error
	LinkSetAllmulticastOn(link netlink.Link) error
	LinkSetAllmulticastOff(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error
}

// backend bundles the kernel interfaces a port talks to
type backend struct {
	nl         Netlink
	subscribe  func(ch chan<- netlink.LinkUpdate, done <-chan struct{}, onErr func(error)) error
	openSocket func(ifindex int) (int, error)
	sysfsRoot  string
	linkWait   time.Duration
}

func defaultBackend() *backend {
	return &backend{
		nl: &netlink.Handle{},
		subscribe: func(ch chan<- netlink.LinkUpdate, done <-chan struct{}, onErr func(error)) error {
			return netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
				ErrorCallback: onErr,
			})
		},
		openSocket: openPacketSocket,
		sysfsRoot:  sysClassNet,
		linkWait:   defaultLinkWait,
	}
}

// NewDriver returns the net_kernel driver registration
func NewDriver() *ethdev.Driver {
	return newDriver(defaultBackend())
}

func newDriver(b *backend) *ethdev.Driver {
	return driverFor(b.initPort, b.uninitPort)
}

// transient reports whether a netlink error is worth retrying
func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ENOBUFS)
}

// retry runs op with exponential backoff while it fails transiently
func retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxNetlinkRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func (b *backend) initPort(dev *ethdev.Device) error {
	bd := dev.BusDevice()
	args, err := ParseArgs(bd.Args)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", bd.Name, ethdev.ErrInvalidArgument, err)
	}

	var link netlink.Link
	err = retry(context.Background(), func() error {
		var err error
		link, err = b.nl.LinkByName(args.Iface)
		return err
	})
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, unix.ENODEV) {
			return fmt.Errorf("interface %s: %w", args.Iface, ethdev.ErrNoSuchDevice)
		}
		return fmt.Errorf("interface %s: %w", args.Iface, err)
	}
	attrs := link.Attrs()

	p := &port{
		b:       b,
		dev:     dev,
		iface:   args.Iface,
		ifindex: attrs.Index,
		fd:      -1,
		log:     logging.LoggerForPort(uint16(dev.Port()), dev.Name()).WithName(types.DriverNameKernel),
	}

	data := dev.Data()
	data.AllocMACAddrs(1, 0)
	data.MACAddrs[0] = util.FromHardwareAddr(attrs.HardwareAddr)
	data.MACPoolSel[0] = 1
	if attrs.MTU > 0 && attrs.MTU <= maxRxPktLen {
		data.MTU = uint16(attrs.MTU)
	}
	flags := decodeFlags(attrs.RawFlags)
	data.Promiscuous = flags.promisc
	data.AllMulticast = flags.allmulti
	data.SetLink(p.linkFrom(attrs))
	if attrs.Statistics != nil {
		p.baseline = *attrs.Statistics
	}

	dev.SetPrivate(p)
	dev.SetOps(p)
	dev.SetBurstFuncs(rxBurst, txBurst)

	p.log.Info("Kernel port initialized", "iface", args.Iface, "ifindex", attrs.Index,
		"mac", data.MACAddrs[0].String(), "mtu", attrs.MTU)
	return nil
}

func (b *backend) uninitPort(dev *ethdev.Device) error {
	if p, ok := dev.Private().(*port); ok {
		p.shutdown()
	}
	return nil
}

type ifaceFlags struct {
	up       bool
	running  bool
	promisc  bool
	allmulti bool
}

func decodeFlags(raw uint32) ifaceFlags {
	return ifaceFlags{
		up:       raw&unix.IFF_UP != 0,
		running:  raw&unix.IFF_RUNNING != 0,
		promisc:  raw&unix.IFF_PROMISC != 0,
		allmulti: raw&unix.IFF_ALLMULTI != 0,
	}
}

// port is the private state of one kernel-backed port
type port struct {
	b       *backend
	dev     *ethdev.Device
	iface   string
	ifindex int
	log     *logging.Logger

	mu       sync.Mutex
	fd       int
	lscDone  chan struct{}
	baseline netlink.LinkStatistics
	rxq      *rxQueue
	txq      *txQueue
}

func (p *port) link() (netlink.Link, error) {
	var link netlink.Link
	err := retry(context.Background(), func() error {
		var err error
		link, err = p.b.nl.LinkByIndex(p.ifindex)
		return err
	})
	return link, err
}

// apply fetches the link and runs a netlink setter on it
func (p *port) apply(what string, set func(netlink.Link) error) error {
	link, err := p.link()
	if err != nil {
		return fmt.Errorf("%s: %w", p.iface, err)
	}
	if err := retry(context.Background(), func() error { return set(link) }); err != nil {
		return fmt.Errorf("%s %s: %w", what, p.iface, err)
	}
	return nil
}

// linkFrom builds a link record from interface attributes and sysfs. An
// interface without operational state reporting (loopback) counts as up
// when it is administratively up and running.
func (p *port) linkFrom(attrs *netlink.LinkAttrs) ethdev.Link {
	flags := decodeFlags(attrs.RawFlags)
	up := attrs.OperState == netlink.OperUp ||
		(attrs.OperState == netlink.OperUnknown && flags.up && flags.running)

	l := ethdev.Link{Up: up, Duplex: ethdev.DuplexFull, Autoneg: true}
	dir := filepath.Join(p.b.sysfsRoot, p.iface)
	if v, err := os.ReadFile(filepath.Join(dir, "speed")); err == nil {
		if speed, err := strconv.Atoi(strings.TrimSpace(string(v))); err == nil && speed > 0 {
			l.Speed = uint32(speed)
		}
	}
	if v, err := os.ReadFile(filepath.Join(dir, "duplex")); err == nil && strings.TrimSpace(string(v)) == "half" {
		l.Duplex = ethdev.DuplexHalf
	}
	return l
}

// publish stores l and raises a link state change event when it changed
// and the port was configured for link interrupts
func (p *port) publish(l ethdev.Link) {
	data := p.dev.Data()
	if !data.SetLink(l) {
		return
	}
	p.log.Info("Link changed", "link", l.String())
	if data.Conf.Intr.LSC {
		if err := p.dev.Registry().ProcessEvent(p.dev.Port(), ethdev.EventLinkStateChange); err != nil {
			p.log.Debug("Link event dropped", "error", err.Error())
		}
	}
}

// watchLink subscribes to link updates for the interface
func (p *port) watchLink() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lscDone != nil {
		return nil
	}

	ch := make(chan netlink.LinkUpdate, 16)
	done := make(chan struct{})
	onErr := func(err error) {
		p.log.Error(err, "Link subscription error")
	}
	if err := p.b.subscribe(ch, done, onErr); err != nil {
		close(done)
		return fmt.Errorf("subscribe to %s: %w", p.iface, err)
	}
	p.lscDone = done

	go func() {
		for {
			select {
			case <-done:
				return
			case u, ok := <-ch:
				if !ok {
					return
				}
				if u.Link == nil || u.Link.Attrs().Index != p.ifindex {
					continue
				}
				p.publish(p.linkFrom(u.Link.Attrs()))
			}
		}
	}()
	return nil
}

func (p *port) unwatchLink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lscDone != nil {
		close(p.lscDone)
		p.lscDone = nil
	}
}

// socket returns the packet socket, opening it on first use
func (p *port) socket() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd >= 0 {
		return p.fd, nil
	}
	fd, err := p.b.openSocket(p.ifindex)
	if err != nil {
		return -1, fmt.Errorf("packet socket on %s: %w", p.iface, err)
	}
	p.fd = fd
	return fd, nil
}

func (p *port) closeSocket() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd >= 0 {
		_ = unix.Close(p.fd)
		p.fd = -1
	}
	p.rxq, p.txq = nil, nil
}

func (p *port) shutdown() {
	p.unwatchLink()
	p.closeSocket()
}

func (p *port) DevInfo(dev *ethdev.Device, info *ethdev.DevInfo) {
	info.MinRxBufSize = minRxBuf
	info.MaxRxPktLen = maxRxPktLen
	info.MaxRxQueues = 1
	info.MaxTxQueues = 1
	info.MaxMACAddrs = 1
}

func (p *port) Configure(dev *ethdev.Device) error {
	return nil
}

func (p *port) Start(dev *ethdev.Device) error {
	if err := p.apply("set up", p.b.nl.LinkSetUp); err != nil {
		return err
	}
	if dev.Data().Conf.Intr.LSC {
		if err := p.watchLink(); err != nil {
			return err
		}
	}
	return nil
}

func (p *port) Stop(dev *ethdev.Device) {
	p.unwatchLink()
}

func (p *port) Close(dev *ethdev.Device) {
	p.shutdown()
}

func (p *port) SetLinkUp(dev *ethdev.Device) error {
	return p.apply("set up", p.b.nl.LinkSetUp)
}

func (p *port) SetLinkDown(dev *ethdev.Device) error {
	return p.apply("set down", p.b.nl.LinkSetDown)
}

// LinkUpdate refreshes the link record. With waitToComplete it polls until
// the link is up or the wait times out.
func (p *port) LinkUpdate(dev *ethdev.Device, waitToComplete bool) error {
	link, err := p.link()
	if err != nil {
		return err
	}
	l := p.linkFrom(link.Attrs())

	if waitToComplete && !l.Up {
		err = wait.PollUntilContextTimeout(context.Background(), linkPollInterval, p.b.linkWait, false,
			func(ctx context.Context) (bool, error) {
				link, err := p.link()
				if err != nil {
					return false, err
				}
				l = p.linkFrom(link.Attrs())
				return l.Up, nil
			})
	}
	p.publish(l)
	if err != nil {
		return fmt.Errorf("wait for %s link: %w", p.iface, err)
	}
	return nil
}

func (p *port) RxQueueSetup(dev *ethdev.Device, queueID, nbDesc uint16, socketID int, conf *ethdev.RxConf, pool ethdev.PacketPool) error {
	getter, ok := pool.(mbufGetter)
	if !ok {
		return fmt.Errorf("pool %s cannot allocate buffers: %w", pool.Name(), ethdev.ErrInvalidArgument)
	}
	if _, err := p.socket(); err != nil {
		return err
	}
	q := &rxQueue{port: p, pool: getter}
	p.mu.Lock()
	p.rxq = q
	p.mu.Unlock()
	dev.Data().RxQueues[queueID] = q
	return nil
}

func (p *port) TxQueueSetup(dev *ethdev.Device, queueID, nbDesc uint16, socketID int, conf *ethdev.TxConf) error {
	if _, err := p.socket(); err != nil {
		return err
	}
	q := &txQueue{port: p}
	p.mu.Lock()
	p.txq = q
	p.mu.Unlock()
	dev.Data().TxQueues[queueID] = q
	return nil
}

func (p *port) RxQueueRelease(q ethdev.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rxq == q {
		p.rxq = nil
	}
}

func (p *port) TxQueueRelease(q ethdev.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txq == q {
		p.txq = nil
	}
}

func (p *port) PromiscuousEnable(dev *ethdev.Device) {
	if err := p.apply("promiscuous on", p.b.nl.SetPromiscOn); err != nil {
		p.log.Error(err, "Failed to enable promiscuous mode")
	}
}

func (p *port) PromiscuousDisable(dev *ethdev.Device) {
	if err := p.apply("promiscuous off", p.b.nl.SetPromiscOff); err != nil {
		p.log.Error(err, "Failed to disable promiscuous mode")
	}
}

func (p *port) AllMulticastEnable(dev *ethdev.Device) {
	if err := p.apply("allmulticast on", p.b.nl.LinkSetAllmulticastOn); err != nil {
		p.log.Error(err, "Failed to enable all-multicast mode")
	}
}

func (p *port) AllMulticastDisable(dev *ethdev.Device) {
	if err := p.apply("allmulticast off", p.b.nl.LinkSetAllmulticastOff); err != nil {
		p.log.Error(err, "Failed to disable all-multicast mode")
	}
}

func (p *port) SetMTU(dev *ethdev.Device, mtu uint16) error {
	return p.apply("set mtu", func(link netlink.Link) error {
		return p.b.nl.LinkSetMTU(link, int(mtu))
	})
}

func (p *port) MACAddrSet(dev *ethdev.Device, addr util.EtherAddr) {
	err := p.apply("set address", func(link netlink.Link) error {
		return p.b.nl.LinkSetHardwareAddr(link, addr.HardwareAddr())
	})
	if err != nil {
		p.log.Error(err, "Failed to set station address", "mac", addr.String())
	}
}

func (p *port) kernelStats() (netlink.LinkStatistics, error) {
	link, err := p.link()
	if err != nil {
		return netlink.LinkStatistics{}, err
	}
	if link.Attrs().Statistics == nil {
		return netlink.LinkStatistics{}, nil
	}
	return *link.Attrs().Statistics, nil
}

// StatsGet reports kernel counters relative to the last reset and the
// socket counters of queue 0
func (p *port) StatsGet(dev *ethdev.Device, stats *ethdev.Stats) {
	ks, err := p.kernelStats()
	if err != nil {
		p.log.Error(err, "Failed to read interface statistics")
		return
	}
	p.mu.Lock()
	base := p.baseline
	rxq, txq := p.rxq, p.txq
	p.mu.Unlock()

	stats.IPackets = ks.RxPackets - base.RxPackets
	stats.OPackets = ks.TxPackets - base.TxPackets
	stats.IBytes = ks.RxBytes - base.RxBytes
	stats.OBytes = ks.TxBytes - base.TxBytes
	stats.IErrors = ks.RxErrors - base.RxErrors
	stats.OErrors = ks.TxErrors - base.TxErrors
	stats.IMissed = ks.RxMissedErrors - base.RxMissedErrors
	if rxq != nil {
		stats.QIPackets[0] = rxq.stats.packets.Load()
		stats.QIBytes[0] = rxq.stats.bytes.Load()
	}
	if txq != nil {
		stats.QOPackets[0] = txq.stats.packets.Load()
		stats.QOBytes[0] = txq.stats.bytes.Load()
		stats.QErrors[0] = txq.stats.errors.Load()
	}
}

func (p *port) StatsReset(dev *ethdev.Device) {
	ks, err := p.kernelStats()
	if err != nil {
		p.log.Error(err, "Failed to read interface statistics")
		return
	}
	p.mu.Lock()
	p.baseline = ks
	rxq, txq := p.rxq, p.txq
	p.mu.Unlock()
	if rxq != nil {
		rxq.stats.reset()
	}
	if txq != nil {
		txq.stats.reset()
	}
}

var kernelXStats = []struct {
	name string
	get  func(s *netlink.LinkStatistics) uint64
}{
	{"rx_dropped", func(s *netlink.LinkStatistics) uint64 { return s.RxDropped }},
	{"tx_dropped", func(s *netlink.LinkStatistics) uint64 { return s.TxDropped }},
	{"multicast", func(s *netlink.LinkStatistics) uint64 { return s.Multicast }},
	{"collisions", func(s *netlink.LinkStatistics) uint64 { return s.Collisions }},
	{"rx_length_errors", func(s *netlink.LinkStatistics) uint64 { return s.RxLengthErrors }},
	{"rx_crc_errors", func(s *netlink.LinkStatistics) uint64 { return s.RxCrcErrors }},
	{"rx_fifo_errors", func(s *netlink.LinkStatistics) uint64 { return s.RxFifoErrors }},
	{"tx_carrier_errors", func(s *netlink.LinkStatistics) uint64 { return s.TxCarrierErrors }},
}

func (p *port) XStatsGet(dev *ethdev.Device, xstats []ethdev.XStat) (int, error) {
	if len(xstats) == 0 {
		return len(kernelXStats), nil
	}
	ks, err := p.kernelStats()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	base := p.baseline
	p.mu.Unlock()
	for i := 0; i < len(xstats) && i < len(kernelXStats); i++ {
		f := kernelXStats[i]
		xstats[i] = ethdev.XStat{Name: f.name, Value: f.get(&ks) - f.get(&base)}
	}
	return len(kernelXStats), nil
}
