package vplic

import (
	"errors"
	"fmt"

	"github.com/tinyrange/vplic/internal/hv"
)

var (
	ErrWindowTooSmall      = errors.New("vplic: window too small for context count")
	ErrUnsupportedRegister = errors.New("unsupported register")
	ErrUnsupportedWidth    = errors.New("unsupported access width")
	ErrUnalignedAccess     = errors.New("unaligned access")
	ErrOutOfWindow         = errors.New("access outside device window")
	ErrInvalidContext      = errors.New("invalid context id")
)

// Fault is a guest access the device refused. It is recoverable: the caller
// is expected to turn it into an access fault for the guest.
type Fault struct {
	Op     string // "read" or "write"
	Offset uint64
	Width  hv.AccessWidth
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("vplic: %s at offset 0x%x (%s): %v", f.Op, f.Offset, f.Width, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }
