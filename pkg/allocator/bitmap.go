// Package allocator provides slot allocation for fixed-capacity tables.
//
// Each bit of a Bitmap represents one slot: 1 = in use, 0 = free. The port
// registry keeps its ATTACHED/DETACHED flags here, and hot-plug discovery
// compares a Snapshot taken before a bus probe with the live bitmap to find
// the single slot the probe changed.
package allocator

import (
	"sync"
)

// Bitmap is a thread-safe slot bitmap
type Bitmap struct {
	// mu protects concurrent access
	mu sync.RWMutex

	// bits is the underlying byte slice, 8 slots per byte
	bits []byte

	// size is the total number of slots
	size int

	// allocated is the count of set bits
	allocated int
}

// Snapshot is an immutable copy of a Bitmap's state
type Snapshot struct {
	bits []byte
	size int
}

// NewBitmap creates a new bitmap with the specified size
//
// Parameters:
//   - size: Number of slots in the bitmap
//
// Returns:
//   - *Bitmap: Bitmap instance
func NewBitmap(size int) *Bitmap {
	numBytes := (size + 7) / 8
	return &Bitmap{
		bits: make([]byte, numBytes),
		size: size,
	}
}

// Set marks a slot as in use
//
// Returns:
//   - error: IndexOutOfRangeError or SlotInUseError
func (b *Bitmap) Set(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= b.size {
		return &IndexOutOfRangeError{Index: index, Size: b.size}
	}

	byteIndex := index / 8
	bitIndex := uint(index % 8)

	if b.bits[byteIndex]&(1<<bitIndex) != 0 {
		return &SlotInUseError{Index: index}
	}

	b.bits[byteIndex] |= 1 << bitIndex
	b.allocated++
	return nil
}

// Clear marks a slot as free. Clearing a free slot is a no-op.
func (b *Bitmap) Clear(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= b.size {
		return &IndexOutOfRangeError{Index: index, Size: b.size}
	}

	byteIndex := index / 8
	bitIndex := uint(index % 8)

	if b.bits[byteIndex]&(1<<bitIndex) != 0 {
		b.bits[byteIndex] &^= 1 << bitIndex
		b.allocated--
	}
	return nil
}

// IsSet reports whether a slot is in use. Out of range indices are free.
func (b *Bitmap) IsSet(index int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return isSet(b.bits, b.size, index)
}

// Allocate claims the lowest free slot
//
// Returns:
//   - int: Claimed slot index
//   - error: SlotsExhaustedError if every slot is in use
func (b *Bitmap) Allocate() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < b.size; i++ {
		if !isSet(b.bits, b.size, i) {
			b.bits[i/8] |= 1 << uint(i%8)
			b.allocated++
			return i, nil
		}
	}
	return -1, &SlotsExhaustedError{Size: b.size}
}

// Size returns the total number of slots
func (b *Bitmap) Size() int {
	return b.size
}

// Allocated returns the number of slots in use
func (b *Bitmap) Allocated() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allocated
}

// Available returns the number of free slots
func (b *Bitmap) Available() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size - b.allocated
}

// Snapshot copies the current state
func (b *Bitmap) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bits := make([]byte, len(b.bits))
	copy(bits, b.bits)
	return Snapshot{bits: bits, size: b.size}
}

// IsSet reports whether a slot was in use when the snapshot was taken.
func (s Snapshot) IsSet(index int) bool {
	return isSet(s.bits, s.size, index)
}

// Size returns the number of slots covered by the snapshot
func (s Snapshot) Size() int {
	return s.size
}

// Changed returns every index whose bit differs between the snapshot and
// the live bitmap, in ascending order.
func (b *Bitmap) Changed(before Snapshot) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var changed []int
	for i := 0; i < b.size; i++ {
		if isSet(b.bits, b.size, i) != before.IsSet(i) {
			changed = append(changed, i)
		}
	}
	return changed
}

// ChangedOne returns the single index that differs from the snapshot.
//
// Returns:
//   - int: The changed index
//   - error: NoChangeError when nothing changed, AmbiguousChangeError when
//     more than one index changed
func (b *Bitmap) ChangedOne(before Snapshot) (int, error) {
	changed := b.Changed(before)
	switch len(changed) {
	case 0:
		return -1, &NoChangeError{}
	case 1:
		return changed[0], nil
	default:
		return -1, &AmbiguousChangeError{Indices: changed}
	}
}

func isSet(bits []byte, size, index int) bool {
	if index < 0 || index >= size {
		return false
	}
	return bits[index/8]&(1<<uint(index%8)) != 0
}
