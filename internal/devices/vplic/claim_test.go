package vplic

import (
	"bytes"
	"sync"
	"testing"

	"github.com/tinyrange/vplic/internal/hv"
)

func TestClaimEmptyReturnsNoInterrupt(t *testing.T) {
	v, sig, _ := newTestVPLIC(t, 2)

	if got := mustRead(t, v, claimOffset(0)); got != NoInterrupt {
		t.Fatalf("claim on empty = %d, want %d", got, NoInterrupt)
	}
	if v.HasAnyPending() || len(v.ActiveSources()) != 0 {
		t.Fatalf("empty claim mutated state")
	}
	if len(sig.Events()) != 0 {
		t.Fatalf("empty claim drove the signal: %v", sig.Events())
	}
	if got := v.Stats().EmptyClaims; got != 1 {
		t.Fatalf("empty claims = %d, want 1", got)
	}
}

func TestClaimLowestAndComplete(t *testing.T) {
	v, sig, bridge := newTestVPLIC(t, 2)

	v.SetSourcePending(5)
	v.SetSourcePending(3)

	if got := mustRead(t, v, claimOffset(0)); got != 3 {
		t.Fatalf("claim = %d, want 3", got)
	}
	if got := v.PendingSources(); !equalInts(got, []int{5}) {
		t.Fatalf("pending = %v, want [5]", got)
	}
	if got := v.ActiveSources(); !equalInts(got, []int{3}) {
		t.Fatalf("active = %v, want [3]", got)
	}
	checkExclusive(t, v)

	// Something is still pending, so completing 3 keeps the line up.
	mustWrite(t, v, claimOffset(0), 3)
	if v.IsActive(3) {
		t.Fatalf("source 3 still active")
	}
	if !sig.Level() {
		t.Fatalf("signal dropped while source 5 pending")
	}

	writes := bridge.Writes()
	if len(writes) != 1 || writes[0].offset != claimOffset(0) || writes[0].value != 3 {
		t.Fatalf("host completion writes = %+v", writes)
	}

	if got := mustRead(t, v, claimOffset(1)); got != 5 {
		t.Fatalf("claim from context 1 = %d, want 5", got)
	}
	mustWrite(t, v, claimOffset(1), 5)
	if sig.Level() {
		t.Fatalf("signal still asserted after draining")
	}
	if got := v.Stats(); got.Claims != 2 || got.Completes != 2 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestCompleteDeassertsOnlyWhenEmpty(t *testing.T) {
	v, sig, _ := newTestVPLIC(t, 1)

	v.SetSourcePending(3)
	mustRead(t, v, claimOffset(0))
	sig.reset()

	mustWrite(t, v, claimOffset(0), 3)
	if got := sig.Events(); len(got) != 1 || got[0] {
		t.Fatalf("signal events = %v, want [false]", got)
	}
}

func TestCompleteWithoutOwnership(t *testing.T) {
	v, _, _ := newTestVPLIC(t, 2)

	v.SetSourcePending(9)
	if got := mustRead(t, v, claimOffset(0)); got != 9 {
		t.Fatalf("claim = %d, want 9", got)
	}

	// Context 1 never claimed source 9 but may still complete it.
	mustWrite(t, v, claimOffset(1), 9)
	if v.IsActive(9) {
		t.Fatalf("source 9 still active")
	}

	// Completing a source that is not active, or does not exist, is harmless.
	mustWrite(t, v, claimOffset(1), 9)
	mustWrite(t, v, claimOffset(1), NumSources+5)
	if len(v.ActiveSources()) != 0 {
		t.Fatalf("active = %v", v.ActiveSources())
	}
}

func TestActiveSourceCannotBecomePending(t *testing.T) {
	v, _, _ := newTestVPLIC(t, 1)

	v.SetSourcePending(4)
	mustRead(t, v, claimOffset(0))

	if v.SetSourcePending(4) {
		t.Fatalf("SetSourcePending succeeded on an active source")
	}
	mustWrite(t, v, PendingOffset, 1<<4)
	if v.IsPending(4) {
		t.Fatalf("pending write raised an active source")
	}
	checkExclusive(t, v)

	mustWrite(t, v, claimOffset(0), 4)
	if !v.SetSourcePending(4) {
		t.Fatalf("SetSourcePending failed after completion")
	}
}

func TestInjectionAPI(t *testing.T) {
	v, sig, _ := newTestVPLIC(t, 1)

	if !v.SetSourcePending(5) {
		t.Fatalf("first SetSourcePending(5) = false")
	}
	if v.SetSourcePending(5) {
		t.Fatalf("repeated SetSourcePending(5) = true")
	}
	if !sig.Level() {
		t.Fatalf("signal not asserted")
	}
	if !v.HasAnyPending() {
		t.Fatalf("HasAnyPending = false")
	}

	if !v.ClearSourcePending(5) {
		t.Fatalf("first ClearSourcePending(5) = false")
	}
	if v.ClearSourcePending(5) {
		t.Fatalf("repeated ClearSourcePending(5) = true")
	}
	if v.HasAnyPending() {
		t.Fatalf("HasAnyPending = true after clear")
	}
	if sig.Level() {
		t.Fatalf("signal still asserted after clearing the last source")
	}

	for _, id := range []int{0, -1, NumSources, NumSources + 1} {
		if v.SetSourcePending(id) {
			t.Fatalf("SetSourcePending(%d) = true", id)
		}
		if v.ClearSourcePending(id) {
			t.Fatalf("ClearSourcePending(%d) = true", id)
		}
	}
	if v.HasAnyPending() {
		t.Fatalf("invalid ids changed state")
	}

	if !v.SetSourcePending(NumSources - 1) {
		t.Fatalf("SetSourcePending(last) = false")
	}
	if !v.HasAnyPending() {
		t.Fatalf("HasAnyPending missed the last source")
	}
}

func TestAssignSource(t *testing.T) {
	v, _, _ := newTestVPLIC(t, 1)

	if v.AssignSource(0) {
		t.Fatalf("AssignSource(0) = true")
	}
	if !v.AssignSource(12) || v.AssignSource(12) {
		t.Fatalf("AssignSource(12) not idempotent")
	}
	if !v.IsAssigned(12) || v.IsAssigned(13) {
		t.Fatalf("IsAssigned mismatch")
	}
	if v.HasAnyPending() {
		t.Fatalf("assignment raised an interrupt")
	}
}

func TestConcurrentClaimComplete(t *testing.T) {
	const (
		harts   = 4
		rounds  = 2000
		sources = 64
	)

	v, _, _ := newTestVPLIC(t, harts)

	var (
		wg      sync.WaitGroup
		claimMu sync.Mutex
		claimed = make(map[uint64]int)
	)

	// Injector: keeps raising sources through both injection paths.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			id := 1 + i%(sources-1)
			if i%2 == 0 {
				v.SetSourcePending(id)
			} else {
				word := uint64(id / 32)
				_ = v.HandleWrite(PendingOffset+4*word, hv.AccessDword, uint64(1)<<(uint(id)%32))
			}
		}
	}()

	for hart := 0; hart < harts; hart++ {
		wg.Add(1)
		go func(ctx int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				id, err := v.HandleRead(claimOffset(ctx), hv.AccessDword)
				if err != nil {
					t.Errorf("claim ctx %d: %v", ctx, err)
					return
				}
				if id == NoInterrupt {
					continue
				}
				claimMu.Lock()
				claimed[id]++
				claimMu.Unlock()
				if err := v.HandleWrite(claimOffset(ctx), hv.AccessDword, id); err != nil {
					t.Errorf("complete ctx %d: %v", ctx, err)
					return
				}
			}
		}(hart)
	}

	// Observer: the pending and active sets never overlap.
	done := make(chan struct{})
	observerErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				observerErr <- nil
				return
			default:
			}
			if err := v.CheckExclusive(); err != nil {
				observerErr <- err
				return
			}
		}
	}()

	wg.Wait()
	close(done)
	if err := <-observerErr; err != nil {
		t.Fatalf("invariant violated: %v", err)
	}

	checkExclusive(t, v)
	if got := v.ActiveSources(); len(got) != 0 {
		t.Fatalf("sources left active after every claim was completed: %v", got)
	}
	for id := range claimed {
		if id == 0 || id >= sources {
			t.Fatalf("claimed unexpected source %d", id)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	v, _, _ := newTestVPLIC(t, 2)

	v.AssignSource(40)
	v.SetSourcePending(40)
	v.SetSourcePending(41)
	v.SetSourcePending(900)
	mustRead(t, v, claimOffset(0)) // 40 becomes active

	var buf bytes.Buffer
	if err := hv.EncodeDeviceSnapshot(&buf, hv.ArchitectureRISCV64, v); err != nil {
		t.Fatalf("encode: %v", err)
	}

	restored, sig, _ := newTestVPLIC(t, 2)
	if err := hv.DecodeDeviceSnapshot(bytes.NewReader(buf.Bytes()), hv.ArchitectureRISCV64, restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := restored.PendingSources(); !equalInts(got, []int{41, 900}) {
		t.Fatalf("pending = %v, want [41 900]", got)
	}
	if got := restored.ActiveSources(); !equalInts(got, []int{40}) {
		t.Fatalf("active = %v, want [40]", got)
	}
	if !restored.IsAssigned(40) {
		t.Fatalf("assignment lost")
	}
	if !sig.Level() {
		t.Fatalf("restore with pending sources did not assert the signal")
	}

	// Claiming continues where the original left off.
	if got := mustRead(t, restored, claimOffset(1)); got != 41 {
		t.Fatalf("claim after restore = %d, want 41", got)
	}
}

func TestRestoreSnapshotRejectsMismatch(t *testing.T) {
	v, _, _ := newTestVPLIC(t, 2)
	snap, err := v.CaptureSnapshot()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	other, _, _ := newTestVPLIC(t, 3)
	if err := other.RestoreSnapshot(snap); err == nil {
		t.Fatalf("restore into a device with a different context count succeeded")
	}

	bad := snap.(*vplicSnapshot)
	bad.Pending[0] = 1 << 6
	bad.Active[0] = 1 << 6
	if err := v.RestoreSnapshot(bad); err == nil {
		t.Fatalf("restore of overlapping pending/active succeeded")
	}

	if err := v.RestoreSnapshot("nope"); err == nil {
		t.Fatalf("restore of foreign snapshot succeeded")
	}

	var buf bytes.Buffer
	if err := hv.EncodeDeviceSnapshot(&buf, hv.ArchitectureRISCV64, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := hv.DecodeDeviceSnapshot(bytes.NewReader(buf.Bytes()), hv.ArchitectureARM64, v); err == nil {
		t.Fatalf("decode with wrong architecture succeeded")
	}
}
