package ethdev

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
)

// queueEntrySize is the heap cost of one queue array entry
const queueEntrySize = 16

// queueArrays is one direction's queue bookkeeping inside DevData
type queueArrays struct {
	handles  *[]Queue
	states   *[]QueueState
	deferred *[]bool
}

func (d *DevData) rxArrays() queueArrays {
	return queueArrays{handles: &d.RxQueues, states: &d.RxQueueState, deferred: &d.rxDeferred}
}

func (d *DevData) txArrays() queueArrays {
	return queueArrays{handles: &d.TxQueues, states: &d.TxQueueState, deferred: &d.txDeferred}
}

func (a queueArrays) set(n int, keep int) {
	handles := make([]Queue, n)
	states := make([]QueueState, n)
	deferred := make([]bool, n)
	if keep > 0 {
		copy(handles, (*a.handles)[:keep])
		copy(states, (*a.states)[:keep])
		copy(deferred, (*a.deferred)[:keep])
	}
	*a.handles = handles
	*a.states = states
	*a.deferred = deferred
}

func (a queueArrays) truncate(n int) {
	for i := n; i < len(*a.handles); i++ {
		(*a.handles)[i] = nil
	}
	*a.handles = (*a.handles)[:n]
	*a.states = (*a.states)[:n]
	*a.deferred = (*a.deferred)[:n]
}

// resizeQueues sets one direction's queue array to exactly n entries.
//
// The first call (array nil) allocates n empty handles. Later calls release
// the handles in [n, old) in ascending order through release, then resize;
// new entries start empty. A call with the current count changes nothing.
// When the heap cannot cover the array the remaining handles are released
// and the count drops to 0.
func resizeQueues(heap *eal.Heap, data *DevData, a queueArrays, n uint16, release func(Queue)) error {
	old := len(*a.handles)
	want := int(n)

	if *a.handles == nil {
		if err := heap.Reserve(int64(want) * queueEntrySize); err != nil {
			return fmt.Errorf("queue array of %d entries: %v: %w", want, err, ErrNoMemory)
		}
		data.queueBytes += int64(want) * queueEntrySize
		a.set(want, 0)
		return nil
	}

	if want == old {
		return nil
	}
	if release == nil {
		return fmt.Errorf("queue release: %w", ErrNotSupported)
	}

	for i := want; i < old; i++ {
		release((*a.handles)[i])
	}

	if want < old {
		a.truncate(want)
		freed := int64(old-want) * queueEntrySize
		heap.Release(freed)
		data.queueBytes -= freed
		return nil
	}

	if err := heap.Reserve(int64(want-old) * queueEntrySize); err != nil {
		for i := 0; i < old; i++ {
			release((*a.handles)[i])
		}
		a.truncate(0)
		heap.Release(int64(old) * queueEntrySize)
		data.queueBytes -= int64(old) * queueEntrySize
		return fmt.Errorf("grow queue array to %d entries: %v: %w", want, err, ErrNoMemory)
	}
	data.queueBytes += int64(want-old) * queueEntrySize
	a.set(want, old)
	return nil
}

func (r *Registry) rxQueueConfig(dev *Device, n uint16) error {
	var release func(Queue)
	if rel, ok := dev.ops.(RxQueueReleaser); ok {
		release = rel.RxQueueRelease
	}
	err := resizeQueues(r.env.Heap(), dev.data, dev.data.rxArrays(), n, release)
	if err != nil {
		klog.V(4).Infof("Port %d rx queue config to %d failed: %v", dev.port, n, err)
	}
	return err
}

func (r *Registry) txQueueConfig(dev *Device, n uint16) error {
	var release func(Queue)
	if rel, ok := dev.ops.(TxQueueReleaser); ok {
		release = rel.TxQueueRelease
	}
	err := resizeQueues(r.env.Heap(), dev.data, dev.data.txArrays(), n, release)
	if err != nil {
		klog.V(4).Infof("Port %d tx queue config to %d failed: %v", dev.port, n, err)
	}
	return err
}

// dropQueueArrays hands both arrays back to the heap without driver release
func (r *Registry) dropQueueArrays(dev *Device) {
	d := dev.data
	d.RxQueues, d.RxQueueState, d.rxDeferred = nil, nil, nil
	d.TxQueues, d.TxQueueState, d.txDeferred = nil, nil, nil
	if d.queueBytes > 0 {
		r.env.Heap().Release(d.queueBytes)
		d.queueBytes = 0
	}
}

// resetQueues rolls one direction back to zero queues after a failed
// configure. Handles that were set up are released when the driver can
// release them; the count is 0 either way.
func resetQueues(heap *eal.Heap, data *DevData, a queueArrays, release func(Queue)) {
	if *a.handles == nil {
		return
	}
	old := len(*a.handles)
	if release != nil {
		for i := 0; i < old; i++ {
			if (*a.handles)[i] != nil {
				release((*a.handles)[i])
			}
		}
	}
	a.truncate(0)
	heap.Release(int64(old) * queueEntrySize)
	data.queueBytes -= int64(old) * queueEntrySize
}

func (r *Registry) resetAllQueues(dev *Device) {
	var rxRelease, txRelease func(Queue)
	if rel, ok := dev.ops.(RxQueueReleaser); ok {
		rxRelease = rel.RxQueueRelease
	}
	if rel, ok := dev.ops.(TxQueueReleaser); ok {
		txRelease = rel.TxQueueRelease
	}
	resetQueues(r.env.Heap(), dev.data, dev.data.rxArrays(), rxRelease)
	resetQueues(r.env.Heap(), dev.data, dev.data.txArrays(), txRelease)
}
