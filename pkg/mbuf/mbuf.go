// Package mbuf provides packet buffers and a fixed-size buffer pool.
//
// Buffers carry a data room preceded by types.PktmbufHeadroom bytes of
// headroom. A Pool hands out a bounded number of buffers; Get fails rather
// than growing, so callers can count allocation failures.
package mbuf

import (
	"errors"
	"fmt"

	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// ErrPoolEmpty is returned when every buffer of a pool is in use
var ErrPoolEmpty = errors.New("mbuf pool empty")

// Mbuf is a packet buffer
type Mbuf struct {
	// Buf is the whole data room including headroom
	Buf []byte

	// DataOff is the offset of packet data in Buf
	DataOff uint16

	// DataLen is the packet length
	DataLen uint16

	// Port is the input port of a received packet
	Port uint16

	// VLANTCI is the stripped VLAN tag, if any
	VLANTCI uint16

	pool *Pool
}

// Data returns the packet bytes
func (m *Mbuf) Data() []byte {
	return m.Buf[m.DataOff : m.DataOff+m.DataLen]
}

// SetData copies p into the buffer after the headroom
func (m *Mbuf) SetData(p []byte) error {
	room := len(m.Buf) - int(m.DataOff)
	if len(p) > room {
		return fmt.Errorf("packet of %d bytes exceeds data room of %d", len(p), room)
	}
	copy(m.Buf[m.DataOff:], p)
	m.DataLen = uint16(len(p))
	return nil
}

// Free returns the buffer to its pool
func (m *Mbuf) Free() {
	if m.pool != nil {
		m.pool.put(m)
	}
}

// Pool is a fixed-size buffer pool
type Pool struct {
	name         string
	dataRoomSize uint16
	free         chan *Mbuf
	size         int
}

// NewPool creates a pool of n buffers, each with dataRoomSize bytes
// including headroom.
func NewPool(name string, n int, dataRoomSize uint16) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pool %s: size must be positive", name)
	}
	if dataRoomSize < types.PktmbufHeadroom {
		return nil, fmt.Errorf("pool %s: data room %d smaller than headroom %d",
			name, dataRoomSize, types.PktmbufHeadroom)
	}

	p := &Pool{
		name:         name,
		dataRoomSize: dataRoomSize,
		free:         make(chan *Mbuf, n),
		size:         n,
	}
	for i := 0; i < n; i++ {
		p.free <- &Mbuf{Buf: make([]byte, dataRoomSize), DataOff: types.PktmbufHeadroom, pool: p}
	}
	return p, nil
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.name
}

// DataRoomSize returns the per-buffer data room including headroom
func (p *Pool) DataRoomSize() uint16 {
	return p.dataRoomSize
}

// Get takes a buffer from the pool
func (p *Pool) Get() (*Mbuf, error) {
	select {
	case m := <-p.free:
		m.DataOff = types.PktmbufHeadroom
		m.DataLen = 0
		m.Port = 0
		m.VLANTCI = 0
		return m, nil
	default:
		return nil, ErrPoolEmpty
	}
}

// Available returns the number of free buffers
func (p *Pool) Available() int {
	return len(p.free)
}

// Size returns the pool capacity
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) put(m *Mbuf) {
	select {
	case p.free <- m:
	default:
	}
}
