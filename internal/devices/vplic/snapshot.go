package vplic

import (
	"encoding/gob"
	"fmt"

	"github.com/tinyrange/vplic/internal/hv"
)

func init() {
	// Register snapshot types for gob encoding/decoding.
	gob.Register(&vplicSnapshot{})
}

type vplicSnapshot struct {
	Contexts int
	Assigned []uint64
	Pending  []uint64
	Active   []uint64
}

func (v *VPLIC) DeviceId() string { return "vplic" }

func (v *VPLIC) CaptureSnapshot() (hv.DeviceSnapshot, error) {
	assigned := v.assigned.snapshot()

	pending := v.pending.lock()
	active := v.active.lock()
	snap := &vplicSnapshot{
		Contexts: v.contexts,
		Assigned: append([]uint64(nil), assigned[:]...),
		Pending:  append([]uint64(nil), pending[:]...),
		Active:   append([]uint64(nil), active[:]...),
	}
	v.active.unlock()
	v.pending.unlock()

	return snap, nil
}

func (v *VPLIC) RestoreSnapshot(snap hv.DeviceSnapshot) error {
	data, ok := snap.(*vplicSnapshot)
	if !ok {
		return fmt.Errorf("vplic: invalid snapshot type")
	}
	if data.Contexts != v.contexts {
		return fmt.Errorf("vplic: snapshot context count mismatch: got %d, want %d", data.Contexts, v.contexts)
	}

	var assigned, pending, active irqBits
	for _, pair := range []struct {
		name string
		dst  *irqBits
		src  []uint64
	}{
		{"assigned", &assigned, data.Assigned},
		{"pending", &pending, data.Pending},
		{"active", &active, data.Active},
	} {
		if len(pair.src) != len(pair.dst) {
			return fmt.Errorf("vplic: snapshot %s set has %d words, want %d", pair.name, len(pair.src), len(pair.dst))
		}
		copy(pair.dst[:], pair.src)
		pair.dst.set(0, false)
	}
	for i := range pending {
		if overlap := pending[i] & active[i]; overlap != 0 {
			return fmt.Errorf("vplic: snapshot has sources both pending and active (word %d mask 0x%x)", i, overlap)
		}
	}

	v.assigned.store(assigned)

	p := v.pending.lock()
	*p = pending
	a := v.active.lock()
	*a = active
	v.active.unlock()
	if p.empty() {
		v.signal.Deassert()
	} else {
		v.signal.Assert()
	}
	v.pending.unlock()

	return nil
}

var _ hv.DeviceSnapshotter = (*VPLIC)(nil)
