package eal

import (
	"errors"
	"fmt"
	"sync"
)

// ErrHeapExhausted is returned when a reservation would exceed the heap limit
var ErrHeapExhausted = errors.New("heap exhausted")

// Heap accounts memory reservations against an optional limit. It does not
// hand out memory; callers allocate Go values and reserve their size here so
// that socket memory limits behave as they would with a hugepage heap.
type Heap struct {
	mu    sync.Mutex
	limit int64
	used  int64
}

// NewHeap creates a heap bounded by limit bytes. 0 means unbounded.
func NewHeap(limit int64) *Heap {
	return &Heap{limit: limit}
}

// Reserve accounts n bytes
func (h *Heap) Reserve(n int64) error {
	if n < 0 {
		return fmt.Errorf("negative reservation %d", n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit > 0 && h.used+n > h.limit {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrHeapExhausted, n, h.used, h.limit)
	}
	h.used += n
	return nil
}

// Release returns n bytes to the heap
func (h *Heap) Release(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.used -= n
	if h.used < 0 {
		h.used = 0
	}
}

// Used returns the number of reserved bytes
func (h *Heap) Used() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Limit returns the heap limit, 0 when unbounded
func (h *Heap) Limit() int64 {
	return h.limit
}
