package allocator

import "fmt"

// SlotsExhaustedError indicates that every slot of a bitmap is in use.
type SlotsExhaustedError struct {
	Size int
}

func (e *SlotsExhaustedError) Error() string {
	return fmt.Sprintf("all %d slots are in use", e.Size)
}

// SlotInUseError indicates that a slot is already set.
type SlotInUseError struct {
	Index int
}

func (e *SlotInUseError) Error() string {
	return fmt.Sprintf("slot %d is already in use", e.Index)
}

// IndexOutOfRangeError indicates an index outside [0, Size).
type IndexOutOfRangeError struct {
	Index int
	Size  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Size)
}

// NoChangeError indicates that a bitmap matches its snapshot.
type NoChangeError struct{}

func (e *NoChangeError) Error() string {
	return "no slot changed since snapshot"
}

// AmbiguousChangeError indicates that more than one slot changed since a
// snapshot, so no single slot can be attributed to the change.
type AmbiguousChangeError struct {
	Indices []int
}

func (e *AmbiguousChangeError) Error() string {
	return fmt.Sprintf("%d slots changed since snapshot: %v", len(e.Indices), e.Indices)
}

// IsSlotsExhausted returns true if the error is a SlotsExhaustedError
func IsSlotsExhausted(err error) bool {
	_, ok := err.(*SlotsExhaustedError)
	return ok
}
