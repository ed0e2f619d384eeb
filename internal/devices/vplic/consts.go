package vplic

// PLIC 1.0.0 register map offsets, relative to the device base.
const (
	PriorityOffset      = 0x000000 // Priority registers (4 bytes per source)
	PendingOffset       = 0x001000 // Pending bits (32 sources per word)
	EnableOffset        = 0x002000 // Enable bits per context
	ContextCtrlOffset   = 0x200000 // Threshold and claim/complete per context
	ContextStride       = 0x1000
	ClaimCompleteOffset = 0x4 // Relative to a context's threshold register
)

// NumSources is the number of interrupt sources tracked per controller.
// Source 0 is reserved and never pending or active.
const NumSources = 1024

// DefaultSize is the size of a full PLIC window with the maximum context count.
const DefaultSize = 0x4000000

// RegisterWidth is the only access width the register file accepts.
const RegisterWidth = 4

// NoInterrupt is returned by a claim when nothing is pending.
const NoInterrupt = 0

const sourcesPerWord = 32

// RequiredSize returns the minimum window span for the given context count.
func RequiredSize(contexts int) uint64 {
	return uint64(contexts)*ContextStride + ContextCtrlOffset + ClaimCompleteOffset
}
