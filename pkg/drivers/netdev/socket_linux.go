//go:build linux

package netdev

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
)

// mbufGetter is a packet pool that hands out buffers
type mbufGetter interface {
	ethdev.PacketPool
	Get() (*mbuf.Mbuf, error)
}

type queueStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

func (s *queueStats) reset() {
	s.packets.Store(0)
	s.bytes.Store(0)
	s.errors.Store(0)
}

type rxQueue struct {
	port  *port
	pool  mbufGetter
	stats queueStats
}

type txQueue struct {
	port  *port
	stats queueStats
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// openPacketSocket opens a non-blocking AF_PACKET socket bound to ifindex
func openPacketSocket(ifindex int) (int, error) {
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return -1, err
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifindex}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (p *port) currentFD() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd
}

func rxBurst(q ethdev.Queue, pkts []*mbuf.Mbuf) int {
	rxq, ok := q.(*rxQueue)
	if !ok {
		return 0
	}
	p := rxq.port
	fd := p.currentFD()
	if fd < 0 {
		return 0
	}

	n := 0
	for n < len(pkts) {
		m, err := rxq.pool.Get()
		if err != nil {
			p.dev.Data().RxMbufAllocFailed.Add(1)
			break
		}
		nr, err := unix.Read(fd, m.Buf[m.DataOff:])
		if err != nil || nr <= 0 {
			m.Free()
			if err != nil && !errors.Is(err, unix.EAGAIN) {
				rxq.stats.errors.Add(1)
			}
			break
		}
		m.DataLen = uint16(nr)
		m.Port = uint16(p.dev.Port())
		pkts[n] = m
		n++
		rxq.stats.packets.Add(1)
		rxq.stats.bytes.Add(uint64(nr))
	}
	return n
}

// txBurst writes packets until the socket would block. Packets the kernel
// rejects are dropped and counted as errors; both are owned by the driver.
func txBurst(q ethdev.Queue, pkts []*mbuf.Mbuf) int {
	txq, ok := q.(*txQueue)
	if !ok {
		return 0
	}
	fd := txq.port.currentFD()
	if fd < 0 {
		return 0
	}

	n := 0
	for _, m := range pkts {
		_, err := unix.Write(fd, m.Data())
		if errors.Is(err, unix.EAGAIN) {
			break
		}
		if err != nil {
			txq.stats.errors.Add(1)
		} else {
			txq.stats.packets.Add(1)
			txq.stats.bytes.Add(uint64(m.DataLen))
		}
		m.Free()
		n++
	}
	return n
}
