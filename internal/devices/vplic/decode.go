package vplic

import (
	"fmt"

	"github.com/tinyrange/vplic/internal/hv"
)

// RegisterClass identifies which part of the register map an access targets.
type RegisterClass int

const (
	ClassInvalid RegisterClass = iota
	ClassPriority
	ClassPending
	ClassEnable
	ClassThreshold
	ClassClaimComplete
)

func (c RegisterClass) String() string {
	switch c {
	case ClassPriority:
		return "priority"
	case ClassPending:
		return "pending"
	case ClassEnable:
		return "enable"
	case ClassThreshold:
		return "threshold"
	case ClassClaimComplete:
		return "claim/complete"
	default:
		return "invalid"
	}
}

// PassThrough reports whether accesses of this class go straight to the host controller.
func (c RegisterClass) PassThrough() bool {
	return c == ClassPriority || c == ClassEnable || c == ClassThreshold
}

// Register is a decoded register access.
type Register struct {
	Class  RegisterClass
	Offset uint64

	// Index is the source number for priority registers and the 32-source
	// word index for pending registers.
	Index int

	// Context is set for threshold and claim/complete registers.
	Context int
}

// FirstSource returns the source id held in bit 0 of a pending word.
func (r Register) FirstSource() int {
	return r.Index * sourcesPerWord
}

func (r Register) String() string {
	switch r.Class {
	case ClassPriority:
		return fmt.Sprintf("priority[%d]", r.Index)
	case ClassPending:
		return fmt.Sprintf("pending[%d]", r.Index)
	case ClassThreshold, ClassClaimComplete:
		return fmt.Sprintf("%s[ctx %d]", r.Class, r.Context)
	default:
		return fmt.Sprintf("%s@0x%x", r.Class, r.Offset)
	}
}

// Decode classifies an access at offset (relative to the device base) of the
// given width against a controller with contexts interrupt contexts.
// Decode is pure; errors are plain sentinels for the caller to wrap.
func Decode(offset uint64, width hv.AccessWidth, contexts int) (Register, error) {
	if width != RegisterWidth {
		return Register{}, ErrUnsupportedWidth
	}
	if offset%RegisterWidth != 0 {
		return Register{}, ErrUnalignedAccess
	}

	switch {
	case offset < PendingOffset:
		return Register{
			Class:  ClassPriority,
			Offset: offset,
			Index:  int((offset - PriorityOffset) / 4),
		}, nil

	case offset < EnableOffset:
		return Register{
			Class:  ClassPending,
			Offset: offset,
			Index:  int((offset - PendingOffset) / 4),
		}, nil

	case offset < ContextCtrlOffset:
		return Register{
			Class:  ClassEnable,
			Offset: offset,
		}, nil
	}

	rel := offset - ContextCtrlOffset
	if rel%ContextStride == 0 {
		return Register{
			Class:   ClassThreshold,
			Offset:  offset,
			Context: int(rel / ContextStride),
		}, nil
	}

	if rel >= ClaimCompleteOffset && (rel-ClaimCompleteOffset)%ContextStride == 0 {
		ctx := (rel - ClaimCompleteOffset) / ContextStride
		if ctx >= uint64(contexts) {
			return Register{}, fmt.Errorf("%w: %d (have %d)", ErrInvalidContext, ctx, contexts)
		}
		return Register{
			Class:   ClassClaimComplete,
			Offset:  offset,
			Context: int(ctx),
		}, nil
	}

	return Register{}, ErrUnsupportedRegister
}
