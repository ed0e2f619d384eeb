//go:build linux

package vplic

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/vplic/internal/hv"
)

// DevMem is a HostBridge backed by a shared mapping of the physical
// controller window, normally obtained from /dev/mem.
//
// This is the only place in the package that touches raw pointers.
type DevMem struct {
	fd  int
	mem []byte
}

// OpenDevMem maps size bytes of physical memory at base from path.
// base must be page aligned.
func OpenDevMem(path string, base, size uint64) (*DevMem, error) {
	pageSize := uint64(unix.Getpagesize())
	if base%pageSize != 0 {
		return nil, fmt.Errorf("devmem: base 0x%x is not page aligned", base)
	}
	if size == 0 {
		return nil, fmt.Errorf("devmem: zero-size mapping")
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("devmem: open %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, int64(base), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("devmem: mmap 0x%x+0x%x: %w", base, size, err)
	}

	return &DevMem{fd: fd, mem: mem}, nil
}

// newMappedBridge wraps an existing mapping. The caller owns mem.
func newMappedBridge(mem []byte) *DevMem {
	return &DevMem{fd: -1, mem: mem}
}

// Close unmaps the window and closes the backing file.
func (d *DevMem) Close() error {
	var err error
	if d.mem != nil && d.fd >= 0 {
		if uerr := unix.Munmap(d.mem); uerr != nil {
			err = fmt.Errorf("devmem: munmap: %w", uerr)
		}
	}
	d.mem = nil
	if d.fd >= 0 {
		if cerr := unix.Close(d.fd); cerr != nil && err == nil {
			err = fmt.Errorf("devmem: close: %w", cerr)
		}
		d.fd = -1
	}
	return err
}

func (d *DevMem) pointer(offset uint64, width hv.AccessWidth) (unsafe.Pointer, error) {
	if !width.Valid() {
		return nil, fmt.Errorf("devmem: invalid width %d", int(width))
	}
	if offset%uint64(width) != 0 {
		return nil, fmt.Errorf("devmem: offset 0x%x not aligned to %s", offset, width)
	}
	end := offset + uint64(width)
	if end < offset || end > uint64(len(d.mem)) {
		return nil, fmt.Errorf("devmem: offset 0x%x outside 0x%x byte window", offset, len(d.mem))
	}
	return unsafe.Pointer(&d.mem[offset]), nil
}

// ReadRegister implements HostBridge.
func (d *DevMem) ReadRegister(offset uint64, width hv.AccessWidth) (uint64, error) {
	ptr, err := d.pointer(offset, width)
	if err != nil {
		return 0, err
	}

	// Atomic loads are used for 32/64-bit registers so the compiler always
	// emits exactly one access of the register's width.
	switch width {
	case hv.AccessByte:
		return uint64(*(*uint8)(ptr)), nil
	case hv.AccessWord:
		return uint64(*(*uint16)(ptr)), nil
	case hv.AccessDword:
		return uint64(atomic.LoadUint32((*uint32)(ptr))), nil
	default:
		return atomic.LoadUint64((*uint64)(ptr)), nil
	}
}

// WriteRegister implements HostBridge.
func (d *DevMem) WriteRegister(offset uint64, width hv.AccessWidth, value uint64) error {
	ptr, err := d.pointer(offset, width)
	if err != nil {
		return err
	}

	switch width {
	case hv.AccessByte:
		*(*uint8)(ptr) = uint8(value)
	case hv.AccessWord:
		*(*uint16)(ptr) = uint16(value)
	case hv.AccessDword:
		atomic.StoreUint32((*uint32)(ptr), uint32(value))
	default:
		atomic.StoreUint64((*uint64)(ptr), value)
	}
	return nil
}

var _ HostBridge = (*DevMem)(nil)
