//go:build !linux

package netdev

import (
	"fmt"
	"runtime"

	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
)

// NewDriver returns a net_kernel registration whose ports fail to
// initialize on this platform
func NewDriver() *ethdev.Driver {
	return driverFor(func(dev *ethdev.Device) error {
		return fmt.Errorf("net_kernel on %s: %w", runtime.GOOS, ethdev.ErrNotSupported)
	}, nil)
}
