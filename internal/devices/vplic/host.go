package vplic

import (
	"fmt"
	"sync"

	"github.com/tinyrange/vplic/internal/hv"
)

// HostBridge performs raw accesses on the physical interrupt controller.
// Offsets are relative to the controller base, and each call is exactly one
// device access of the requested width. Implementations must tolerate
// concurrent callers the way real registers do; the device takes no lock
// around bridge calls.
type HostBridge interface {
	ReadRegister(offset uint64, width hv.AccessWidth) (uint64, error)
	WriteRegister(offset uint64, width hv.AccessWidth, value uint64) error
}

// RegisterFile is an idealized host controller: every register stores exactly
// what was last written to it. It backs the device when no physical
// controller is mapped.
type RegisterFile struct {
	mu   sync.Mutex
	size uint64
	mem  map[uint64]byte
}

// NewRegisterFile returns an empty register file covering size bytes.
func NewRegisterFile(size uint64) *RegisterFile {
	return &RegisterFile{
		size: size,
		mem:  make(map[uint64]byte),
	}
}

func (r *RegisterFile) check(offset uint64, width hv.AccessWidth) error {
	if !width.Valid() {
		return fmt.Errorf("register file: invalid width %d", int(width))
	}
	end := offset + uint64(width)
	if end < offset || end > r.size {
		return fmt.Errorf("register file: offset 0x%x width %d outside 0x%x bytes", offset, int(width), r.size)
	}
	return nil
}

// ReadRegister implements HostBridge.
func (r *RegisterFile) ReadRegister(offset uint64, width hv.AccessWidth) (uint64, error) {
	if err := r.check(offset, width); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var value uint64
	for i := uint64(0); i < uint64(width); i++ {
		value |= uint64(r.mem[offset+i]) << (8 * i)
	}
	return value, nil
}

// WriteRegister implements HostBridge.
func (r *RegisterFile) WriteRegister(offset uint64, width hv.AccessWidth, value uint64) error {
	if err := r.check(offset, width); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := uint64(0); i < uint64(width); i++ {
		b := byte(value >> (8 * i))
		if b == 0 {
			delete(r.mem, offset+i)
			continue
		}
		r.mem[offset+i] = b
	}
	return nil
}

var _ HostBridge = (*RegisterFile)(nil)
