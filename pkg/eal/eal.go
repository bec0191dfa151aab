// Package eal provides the process environment the ethdev layer runs in.
//
// This package handles:
//   - The process role (one primary, any number of secondaries)
//   - Named shared blocks (memzones) that the primary creates and
//     secondaries attach to
//   - A bounded heap that accounts driver private storage and queue arrays
//   - Hugepage detection for sizing the heap
//
// A secondary EAL is built from the primary's memzone table, so both see the
// same blocks. Nothing here maps real shared memory; the memzone table is the
// seam where a cross-process mapping would live.
package eal

import (
	"fmt"

	"k8s.io/klog/v2"
)

// ProcessType is the role of a process in a process group
type ProcessType int

const (
	// ProcessPrimary owns configuration and creates shared blocks
	ProcessPrimary ProcessType = iota

	// ProcessSecondary attaches to blocks the primary created
	ProcessSecondary
)

func (p ProcessType) String() string {
	switch p {
	case ProcessPrimary:
		return "primary"
	case ProcessSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("ProcessType(%d)", int(p))
	}
}

// ParseProcessType parses "primary" or "secondary"
func ParseProcessType(s string) (ProcessType, error) {
	switch s {
	case "primary", "":
		return ProcessPrimary, nil
	case "secondary":
		return ProcessSecondary, nil
	default:
		return ProcessPrimary, fmt.Errorf("invalid process type %q (must be 'primary' or 'secondary')", s)
	}
}

// Config contains EAL configuration
type Config struct {
	// Process is the role of this process
	// Default: primary
	Process ProcessType

	// SocketMemBytes bounds the heap. 0 means unbounded.
	SocketMemBytes int64

	// SocketID is the NUMA socket reported for devices without one
	// Default: 0
	SocketID int
}

// DefaultConfig returns the default EAL configuration
func DefaultConfig() *Config {
	return &Config{
		Process: ProcessPrimary,
	}
}

// EAL is an initialized environment
type EAL struct {
	process  ProcessType
	socketID int
	memzones *MemzoneTable
	heap     *Heap
}

// New initializes a primary or standalone environment with a fresh
// memzone table.
func New(cfg *Config) *EAL {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	klog.V(4).Infof("EAL init: process=%s socketMem=%d socketID=%d",
		cfg.Process, cfg.SocketMemBytes, cfg.SocketID)
	return &EAL{
		process:  cfg.Process,
		socketID: cfg.SocketID,
		memzones: NewMemzoneTable(),
		heap:     NewHeap(cfg.SocketMemBytes),
	}
}

// NewSecondary initializes a secondary environment that shares the
// primary's memzone table.
func NewSecondary(primary *EAL, cfg *Config) *EAL {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	klog.V(4).Infof("EAL init: secondary attached to primary memzones")
	return &EAL{
		process:  ProcessSecondary,
		socketID: cfg.SocketID,
		memzones: primary.memzones,
		heap:     NewHeap(cfg.SocketMemBytes),
	}
}

// ProcessType returns the role of this process
func (e *EAL) ProcessType() ProcessType {
	return e.process
}

// IsPrimary returns true if this is the primary process
func (e *EAL) IsPrimary() bool {
	return e.process == ProcessPrimary
}

// SocketID returns the default NUMA socket
func (e *EAL) SocketID() int {
	return e.socketID
}

// Memzones returns the shared block table
func (e *EAL) Memzones() *MemzoneTable {
	return e.memzones
}

// Heap returns the process heap
func (e *EAL) Heap() *Heap {
	return e.heap
}

// ReserveOrLookup returns the named block, creating it with newData when this
// is the primary process. Secondaries only look it up.
func (e *EAL) ReserveOrLookup(name string, size int64, newData func() any) (*Memzone, error) {
	if e.IsPrimary() {
		if mz, err := e.memzones.Lookup(name); err == nil {
			return mz, nil
		}
		return e.memzones.Reserve(name, size, newData())
	}
	return e.memzones.Lookup(name)
}
