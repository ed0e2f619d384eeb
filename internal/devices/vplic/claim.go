package vplic

import (
	"fmt"
	"math/bits"
)

// readPending synthesizes a pending register word. Bit i is source
// reg.FirstSource()+i.
func (v *VPLIC) readPending(reg Register) uint32 {
	pending := v.pending.lock()
	defer v.pending.unlock()

	var value uint32
	first := reg.FirstSource()
	for i := 0; i < sourcesPerWord; i++ {
		if pending.get(first + i) {
			value |= 1 << uint(i)
		}
	}
	return value
}

// writePending marks every source named by a set bit in value as pending.
// Existing pending bits are never cleared here. Source 0, sources beyond
// NumSources and sources currently being serviced are skipped.
func (v *VPLIC) writePending(reg Register, value uint32) {
	pending := v.pending.lock()
	defer v.pending.unlock()

	active := v.active.lock()
	first := reg.FirstSource()
	var injected uint64
	for i := 0; i < sourcesPerWord; i++ {
		if value&(1<<uint(i)) == 0 {
			continue
		}
		id := first + i
		if id == 0 || id >= NumSources || active.get(id) {
			continue
		}
		if pending.set(id, true) {
			injected++
		}
	}
	v.active.unlock()

	v.stats.injected.Add(injected)
	if !pending.empty() {
		v.signal.Assert()
	}
}

// claim hands the lowest numbered pending source to ctx and marks it active.
//
// The source is not checked against ctx's enable bits, priority or
// threshold; any context may claim any pending source.
func (v *VPLIC) claim(ctx int) uint32 {
	pending := v.pending.lock()
	defer v.pending.unlock()

	id := pending.first()
	if id < 0 {
		v.stats.emptyClaims.Add(1)
		return NoInterrupt
	}

	pending.set(id, false)
	active := v.active.lock()
	active.set(id, true)
	v.active.unlock()

	v.stats.claims.Add(1)
	v.logger.Debug("vplic: claim", "context", ctx, "source", id)
	return uint32(id)
}

// complete ends service of source id. The line is lowered when nothing is
// left pending. Ownership of the claim by ctx is not verified.
func (v *VPLIC) complete(ctx int, id uint32) {
	pending := v.pending.lock()
	if pending.empty() {
		v.signal.Deassert()
	}
	v.pending.unlock()

	if id < NumSources {
		v.active.set(int(id), false)
	}

	v.stats.completes.Add(1)
	v.logger.Debug("vplic: complete", "context", ctx, "source", id)
}

func validSource(id int) bool {
	return id > 0 && id < NumSources
}

// SetSourcePending raises source id from the host side. It reports false
// for invalid ids, already pending sources and sources still being
// serviced.
func (v *VPLIC) SetSourcePending(id int) bool {
	if !validSource(id) {
		return false
	}

	pending := v.pending.lock()
	defer v.pending.unlock()

	if pending.get(id) || v.active.get(id) {
		return false
	}
	pending.set(id, true)
	v.stats.injected.Add(1)
	v.signal.Assert()
	return true
}

// ClearSourcePending withdraws a pending source and reports whether it was
// pending. The line is lowered once nothing is left pending.
func (v *VPLIC) ClearSourcePending(id int) bool {
	if !validSource(id) {
		return false
	}

	pending := v.pending.lock()
	defer v.pending.unlock()

	if !pending.set(id, false) {
		return false
	}
	if pending.empty() {
		v.signal.Deassert()
	}
	return true
}

// HasAnyPending reports whether any source in [1, NumSources) is pending.
func (v *VPLIC) HasAnyPending() bool {
	snap := v.pending.snapshot()
	snap.set(0, false)
	return !snap.empty()
}

// CheckExclusive returns an error if any source is both pending and active.
func (v *VPLIC) CheckExclusive() error {
	pending := v.pending.lock()
	defer v.pending.unlock()
	active := v.active.lock()
	defer v.active.unlock()

	for i := range pending {
		if overlap := pending[i] & active[i]; overlap != 0 {
			return fmt.Errorf("vplic: source %d is both pending and active", i*64+bits.TrailingZeros64(overlap))
		}
	}
	return nil
}

// IsPending reports whether source id is pending.
func (v *VPLIC) IsPending(id int) bool {
	return v.pending.get(id)
}

// IsActive reports whether source id has been claimed and not completed.
func (v *VPLIC) IsActive(id int) bool {
	return v.active.get(id)
}

// PendingSources returns the pending source ids in ascending order.
func (v *VPLIC) PendingSources() []int {
	snap := v.pending.snapshot()
	return snap.ids()
}

// ActiveSources returns the active source ids in ascending order.
func (v *VPLIC) ActiveSources() []int {
	snap := v.active.snapshot()
	return snap.ids()
}

// AssignSource records source id as statically assigned to this guest.
// Assignment is bookkeeping only; claim does not consult it.
func (v *VPLIC) AssignSource(id int) bool {
	if !validSource(id) {
		return false
	}
	return v.assigned.set(id, true)
}

// IsAssigned reports whether source id was assigned to this guest.
func (v *VPLIC) IsAssigned(id int) bool {
	return v.assigned.get(id)
}
