// Package util provides Ethernet address helpers.
package util

import (
	"fmt"
	"net"

	"github.com/jiayi-1994/zstack-ethdev/pkg/types"
)

// EtherAddr is a 48-bit Ethernet address
type EtherAddr [types.EtherAddrLen]byte

// ParseEtherAddr parses a colon or dash separated MAC address
//
// Parameters:
//   - s: MAC address string (e.g., "0a:58:0a:f4:00:05")
//
// Returns:
//   - EtherAddr: Parsed address
//   - error: Parse error, or an address that is not 48 bits long
func ParseEtherAddr(s string) (EtherAddr, error) {
	var addr EtherAddr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return addr, fmt.Errorf("invalid MAC address %s: %v", s, err)
	}
	if len(hw) != types.EtherAddrLen {
		return addr, fmt.Errorf("invalid MAC address %s: not 48 bits", s)
	}
	copy(addr[:], hw)
	return addr, nil
}

// FromHardwareAddr converts a net.HardwareAddr; short inputs are zero padded
func FromHardwareAddr(hw net.HardwareAddr) EtherAddr {
	var addr EtherAddr
	copy(addr[:], hw)
	return addr
}

// HardwareAddr converts to net.HardwareAddr
func (a EtherAddr) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, types.EtherAddrLen)
	copy(hw, a[:])
	return hw
}

func (a EtherAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero returns true for 00:00:00:00:00:00
func (a EtherAddr) IsZero() bool {
	return a == EtherAddr{}
}

// IsMulticast returns true when the group bit is set
func (a EtherAddr) IsMulticast() bool {
	return a[0]&0x01 != 0
}

// IsLocalAdmin returns true when the locally administered bit is set
func (a EtherAddr) IsLocalAdmin() bool {
	return a[0]&0x02 != 0
}

// IsValidAssigned returns true for a non-zero unicast address, the only
// kind a port may use as its default address.
func (a EtherAddr) IsValidAssigned() bool {
	return !a.IsMulticast() && !a.IsZero()
}

// GenerateEtherAddr derives a locally administered unicast address
// of the form 0a:58:xx:xx:xx:xx, xx being the seed bytes
func GenerateEtherAddr(seed uint32) EtherAddr {
	return EtherAddr{0x0a, 0x58, byte(seed >> 24), byte(seed >> 16), byte(seed >> 8), byte(seed)}
}
