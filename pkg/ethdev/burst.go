package ethdev

import (
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
)

// RxBurstFunc is a driver receive function. It fills pkts and returns the
// number of packets received.
type RxBurstFunc func(q Queue, pkts []*mbuf.Mbuf) int

// TxBurstFunc is a driver transmit function. It returns the number of
// packets it took ownership of.
type TxBurstFunc func(q Queue, pkts []*mbuf.Mbuf) int

// RxCallbackFunc post-processes a received burst of nb packets in a buffer
// of maxPkts and returns the new packet count
type RxCallbackFunc func(port PortID, queue uint16, pkts []*mbuf.Mbuf, nb, maxPkts int, param interface{}) int

// TxCallbackFunc pre-processes nb packets before transmit and returns the
// number to hand to the driver
type TxCallbackFunc func(port PortID, queue uint16, pkts []*mbuf.Mbuf, nb int, param interface{}) int

// RxCallback is a post-receive chain entry. The data path walks the chain
// without locks; entries are only linked and unlinked at configuration time.
type RxCallback struct {
	fn    RxCallbackFunc
	param interface{}
	next  atomic.Pointer[RxCallback]
}

// TxCallback is a pre-transmit chain entry
type TxCallback struct {
	fn    TxCallbackFunc
	param interface{}
	next  atomic.Pointer[TxCallback]
}

// AddRxCallback appends fn to the post-receive chain of a receive queue
func (r *Registry) AddRxCallback(port PortID, queueID uint16, fn RxCallbackFunc, param interface{}) (*RxCallback, error) {
	const op = "add_rx_callback"
	dev, err := r.device(port, op)
	if err != nil {
		return nil, err
	}
	if fn == nil || queueID >= dev.data.NbRxQueues() {
		return nil, newPortError(port, op, ErrInvalidArgument, "queue %d", queueID)
	}
	cb := &RxCallback{fn: fn, param: param}

	r.burstMu.Lock()
	defer r.burstMu.Unlock()

	head := &dev.postRx[queueID]
	tail := head.Load()
	if tail == nil {
		head.Store(cb)
	} else {
		for tail.next.Load() != nil {
			tail = tail.next.Load()
		}
		tail.next.Store(cb)
	}
	klog.V(4).Infof("Port %d rx queue %d: callback added", port, queueID)
	return cb, nil
}

// AddTxCallback appends fn to the pre-transmit chain of a transmit queue
func (r *Registry) AddTxCallback(port PortID, queueID uint16, fn TxCallbackFunc, param interface{}) (*TxCallback, error) {
	const op = "add_tx_callback"
	dev, err := r.device(port, op)
	if err != nil {
		return nil, err
	}
	if fn == nil || queueID >= dev.data.NbTxQueues() {
		return nil, newPortError(port, op, ErrInvalidArgument, "queue %d", queueID)
	}
	cb := &TxCallback{fn: fn, param: param}

	r.burstMu.Lock()
	defer r.burstMu.Unlock()

	head := &dev.preTx[queueID]
	tail := head.Load()
	if tail == nil {
		head.Store(cb)
	} else {
		for tail.next.Load() != nil {
			tail = tail.next.Load()
		}
		tail.next.Store(cb)
	}
	klog.V(4).Infof("Port %d tx queue %d: callback added", port, queueID)
	return cb, nil
}

// RemoveRxCallback unlinks cb from a receive queue chain. A burst already
// walking the chain may still run cb once.
func (r *Registry) RemoveRxCallback(port PortID, queueID uint16, cb *RxCallback) error {
	const op = "remove_rx_callback"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if cb == nil || queueID >= dev.data.NbRxQueues() {
		return newPortError(port, op, ErrInvalidArgument, "queue %d", queueID)
	}

	r.burstMu.Lock()
	defer r.burstMu.Unlock()

	head := &dev.postRx[queueID]
	cur := head.Load()
	if cur == cb {
		head.Store(cb.next.Load())
		return nil
	}
	for ; cur != nil; cur = cur.next.Load() {
		if cur.next.Load() == cb {
			cur.next.Store(cb.next.Load())
			return nil
		}
	}
	return newPortError(port, op, ErrInvalidArgument, "callback not found on rx queue %d", queueID)
}

// RemoveTxCallback unlinks cb from a transmit queue chain
func (r *Registry) RemoveTxCallback(port PortID, queueID uint16, cb *TxCallback) error {
	const op = "remove_tx_callback"
	dev, err := r.device(port, op)
	if err != nil {
		return err
	}
	if cb == nil || queueID >= dev.data.NbTxQueues() {
		return newPortError(port, op, ErrInvalidArgument, "queue %d", queueID)
	}

	r.burstMu.Lock()
	defer r.burstMu.Unlock()

	head := &dev.preTx[queueID]
	cur := head.Load()
	if cur == cb {
		head.Store(cb.next.Load())
		return nil
	}
	for ; cur != nil; cur = cur.next.Load() {
		if cur.next.Load() == cb {
			cur.next.Store(cb.next.Load())
			return nil
		}
	}
	return newPortError(port, op, ErrInvalidArgument, "callback not found on tx queue %d", queueID)
}

// RxBurst receives up to len(pkts) packets from a queue and runs the
// post-receive chain in registration order. It returns 0 for an invalid
// port or queue, or a queue that has not been set up.
func (r *Registry) RxBurst(port PortID, queueID uint16, pkts []*mbuf.Mbuf) int {
	dev := r.liveDevice(port)
	if dev == nil || dev.rxBurst == nil || queueID >= dev.data.NbRxQueues() {
		return 0
	}
	q := dev.data.RxQueues[queueID]
	if q == nil {
		return 0
	}
	nb := dev.rxBurst(q, pkts)
	for cb := dev.postRx[queueID].Load(); cb != nil; cb = cb.next.Load() {
		nb = cb.fn(port, queueID, pkts, nb, len(pkts), cb.param)
	}
	return nb
}

// TxBurst runs the pre-transmit chain in registration order, then hands the
// remaining packets to the driver. It returns the number of packets sent,
// 0 when the queue has not been set up.
func (r *Registry) TxBurst(port PortID, queueID uint16, pkts []*mbuf.Mbuf) int {
	dev := r.liveDevice(port)
	if dev == nil || dev.txBurst == nil || queueID >= dev.data.NbTxQueues() {
		return 0
	}
	q := dev.data.TxQueues[queueID]
	if q == nil {
		return 0
	}
	nb := len(pkts)
	for cb := dev.preTx[queueID].Load(); cb != nil; cb = cb.next.Load() {
		nb = cb.fn(port, queueID, pkts, nb, cb.param)
	}
	if nb <= 0 {
		return 0
	}
	if nb > len(pkts) {
		nb = len(pkts)
	}
	return dev.txBurst(q, pkts[:nb])
}
