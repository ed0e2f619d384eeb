//go:build !linux

package vplic

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/vplic/internal/hv"
)

// DevMem is unavailable outside Linux.
type DevMem struct{}

// OpenDevMem always fails on this platform.
func OpenDevMem(path string, base, size uint64) (*DevMem, error) {
	return nil, fmt.Errorf("devmem: physical memory mapping not supported on %s", runtime.GOOS)
}

func (d *DevMem) Close() error { return nil }

// ReadRegister implements HostBridge.
func (d *DevMem) ReadRegister(offset uint64, width hv.AccessWidth) (uint64, error) {
	return 0, fmt.Errorf("devmem: not supported on %s", runtime.GOOS)
}

// WriteRegister implements HostBridge.
func (d *DevMem) WriteRegister(offset uint64, width hv.AccessWidth, value uint64) error {
	return fmt.Errorf("devmem: not supported on %s", runtime.GOOS)
}

var _ HostBridge = (*DevMem)(nil)
