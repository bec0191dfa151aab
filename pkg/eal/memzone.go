package eal

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

var (
	// ErrMemzoneExists is returned when reserving a name that is taken
	ErrMemzoneExists = errors.New("memzone already exists")

	// ErrMemzoneNotFound is returned when looking up an unknown name
	ErrMemzoneNotFound = errors.New("memzone not found")
)

// MemzoneError wraps a memzone failure with the zone name
type MemzoneError struct {
	Name  string
	Cause error
}

func (e *MemzoneError) Error() string {
	return fmt.Sprintf("memzone %q: %v", e.Name, e.Cause)
}

func (e *MemzoneError) Unwrap() error {
	return e.Cause
}

// Memzone is a named block shared by every process of a group
type Memzone struct {
	// Name is the unique key of the block
	Name string

	// Size is the declared size in bytes
	Size int64

	// Data is the block contents
	Data any
}

// MemzoneTable holds the named blocks of a process group
type MemzoneTable struct {
	mu    sync.RWMutex
	zones map[string]*Memzone
}

// NewMemzoneTable creates an empty table
func NewMemzoneTable() *MemzoneTable {
	return &MemzoneTable{zones: make(map[string]*Memzone)}
}

// Reserve creates a named block
func (t *MemzoneTable) Reserve(name string, size int64, data any) (*Memzone, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.zones[name]; ok {
		return nil, &MemzoneError{Name: name, Cause: ErrMemzoneExists}
	}
	mz := &Memzone{Name: name, Size: size, Data: data}
	t.zones[name] = mz
	klog.V(4).Infof("Reserved memzone %s (%d bytes)", name, size)
	return mz, nil
}

// Lookup returns a named block
func (t *MemzoneTable) Lookup(name string) (*Memzone, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	mz, ok := t.zones[name]
	if !ok {
		return nil, &MemzoneError{Name: name, Cause: ErrMemzoneNotFound}
	}
	return mz, nil
}

// Free removes a named block. Used at process group teardown.
func (t *MemzoneTable) Free(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.zones[name]; !ok {
		return &MemzoneError{Name: name, Cause: ErrMemzoneNotFound}
	}
	delete(t.zones, name)
	return nil
}

// Len returns the number of blocks
func (t *MemzoneTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.zones)
}
