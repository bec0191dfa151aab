package ring

import (
	"sync"
	"sync/atomic"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
)

// rxQueue is a bounded FIFO filled by the transmit queue with the same id
type rxQueue struct {
	port  *port
	id    uint16
	pool  ethdev.PacketPool
	intr  atomic.Bool
	stats queueStats

	mu      sync.Mutex
	fifo    []*mbuf.Mbuf
	head    int
	count   int
	stopped bool
}

// txQueue loops packets back into the receive queue with the same id
type txQueue struct {
	port    *port
	id      uint16
	stats   queueStats
	stopped atomic.Bool
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

func newRxQueue(p *port, id, nbDesc uint16, pool ethdev.PacketPool) *rxQueue {
	return &rxQueue{
		port: p,
		id:   id,
		pool: pool,
		fifo: make([]*mbuf.Mbuf, nbDesc),
	}
}

// enqueue appends as many packets as fit and returns how many it took
func (q *rxQueue) enqueue(pkts []*mbuf.Mbuf) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return 0
	}
	n := 0
	for _, m := range pkts {
		if q.count == len(q.fifo) {
			break
		}
		q.fifo[(q.head+q.count)%len(q.fifo)] = m
		q.count++
		n++
	}
	return n
}

// dequeue moves up to len(pkts) packets out of the FIFO
func (q *rxQueue) dequeue(pkts []*mbuf.Mbuf) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return 0
	}
	n := 0
	for n < len(pkts) && q.count > 0 {
		pkts[n] = q.fifo[q.head]
		q.fifo[q.head] = nil
		q.head = (q.head + 1) % len(q.fifo)
		q.count--
		n++
	}
	return n
}

func (q *rxQueue) used() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// descriptorDone reports whether the descriptor offset slots ahead of the
// read position holds a packet
func (q *rxQueue) descriptorDone(offset uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(offset) < q.count
}

func (q *rxQueue) setStopped(stopped bool) {
	q.mu.Lock()
	q.stopped = stopped
	q.mu.Unlock()
}

// drain frees every queued packet
func (q *rxQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 {
		q.fifo[q.head].Free()
		q.fifo[q.head] = nil
		q.head = (q.head + 1) % len(q.fifo)
		q.count--
	}
}

func rxBurst(q ethdev.Queue, pkts []*mbuf.Mbuf) int {
	rxq, ok := q.(*rxQueue)
	if !ok {
		return 0
	}
	n := rxq.dequeue(pkts)
	p := rxq.port
	for _, m := range pkts[:n] {
		m.Port = uint16(p.dev.Port())
		rxq.stats.packets.Add(1)
		rxq.stats.bytes.Add(uint64(m.DataLen))
	}
	if n > 0 {
		p.stampRx()
	}
	return n
}

func txBurst(q ethdev.Queue, pkts []*mbuf.Mbuf) int {
	txq, ok := q.(*txQueue)
	if !ok || txq.stopped.Load() {
		return 0
	}
	p := txq.port
	rxq := p.rxQueue(txq.id)
	if rxq == nil {
		txq.stats.errors.Add(uint64(len(pkts)))
		return 0
	}

	n := rxq.enqueue(pkts)
	for _, m := range pkts[:n] {
		txq.stats.packets.Add(1)
		txq.stats.bytes.Add(uint64(m.DataLen))
	}
	if n < len(pkts) {
		txq.stats.errors.Add(uint64(len(pkts) - n))
	}
	if n > 0 {
		p.stampTx()
		if rxq.intr.Load() {
			p.raise(ethdev.EventInterrupt)
		}
	}
	return n
}
