package hv

import (
	"errors"
	"fmt"
)

var (
	ErrUnhandledMMIO = errors.New("unhandled MMIO access")
)

type CpuArchitecture string

const (
	ArchitectureInvalid CpuArchitecture = "invalid"
	ArchitectureX86_64  CpuArchitecture = "x86_64"
	ArchitectureARM64   CpuArchitecture = "arm64"
	ArchitectureRISCV64 CpuArchitecture = "riscv64"
)

// ParseArchitecture maps a user supplied architecture name to a CpuArchitecture.
func ParseArchitecture(name string) (CpuArchitecture, error) {
	switch name {
	case "x86_64", "amd64":
		return ArchitectureX86_64, nil
	case "arm64", "aarch64":
		return ArchitectureARM64, nil
	case "riscv64", "riscv":
		return ArchitectureRISCV64, nil
	default:
		return ArchitectureInvalid, fmt.Errorf("unknown architecture %q", name)
	}
}

// AccessWidth is the size in bytes of a single guest register access.
type AccessWidth int

const (
	AccessByte  AccessWidth = 1
	AccessWord  AccessWidth = 2
	AccessDword AccessWidth = 4
	AccessQword AccessWidth = 8
)

// Valid reports whether w is one of the widths a CPU can issue.
func (w AccessWidth) Valid() bool {
	switch w {
	case AccessByte, AccessWord, AccessDword, AccessQword:
		return true
	}
	return false
}

// Mask returns the value mask for an access of this width.
func (w AccessWidth) Mask() uint64 {
	if w >= AccessQword {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(w) * 8)) - 1
}

func (w AccessWidth) String() string {
	switch w {
	case AccessByte:
		return "byte"
	case AccessWord:
		return "word"
	case AccessDword:
		return "dword"
	case AccessQword:
		return "qword"
	default:
		return fmt.Sprintf("width(%d)", int(w))
	}
}

type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Contains reports whether an access of size bytes at addr lies inside the region.
func (r MMIORegion) Contains(addr, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.Address+r.Size
}

// DeviceSnapshot is an opaque, gob-encodable device state blob.
type DeviceSnapshot any

// DeviceSnapshotter is implemented by devices whose state survives a VM snapshot.
type DeviceSnapshotter interface {
	DeviceId() string
	CaptureSnapshot() (DeviceSnapshot, error)
	RestoreSnapshot(snap DeviceSnapshot) error
}
