package chipset

import (
	"errors"
	"testing"

	"github.com/tinyrange/vplic/internal/hv"
)

type testDevice struct {
	base, size uint64

	reads, writes int
	resets        int
	lastAddr      uint64
}

func (d *testDevice) Start() error { return nil }
func (d *testDevice) Stop() error  { return nil }
func (d *testDevice) Reset() error {
	d.resets++
	return nil
}

func (d *testDevice) SupportsMmio() *MmioIntercept {
	return &MmioIntercept{
		Regions: []hv.MMIORegion{{Address: d.base, Size: d.size}},
		Handler: d,
	}
}

func (d *testDevice) ReadMMIO(addr uint64, data []byte) error {
	d.reads++
	d.lastAddr = addr
	return nil
}

func (d *testDevice) WriteMMIO(addr uint64, data []byte) error {
	d.writes++
	d.lastAddr = addr
	return nil
}

func TestChipsetMMIODispatch(t *testing.T) {
	a := &testDevice{base: 0x1000, size: 0x100}
	b := &testDevice{base: 0x2000, size: 0x100}

	builder := NewBuilder()
	if err := builder.RegisterDevice("a", a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := builder.RegisterDevice("b", b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	cs, err := builder.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := cs.HandleMMIO(0x2010, make([]byte, 4), true); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if b.writes != 1 || b.lastAddr != 0x2010 || a.writes != 0 {
		t.Fatalf("write routed wrong: a=%+v b=%+v", a, b)
	}

	if err := cs.HandleMMIO(0x1000, make([]byte, 4), false); err != nil {
		t.Fatalf("read a: %v", err)
	}
	if a.reads != 1 {
		t.Fatalf("read not routed to a")
	}

	// Straddling the end of a region is not dispatched.
	if err := cs.HandleMMIO(0x10fe, make([]byte, 4), false); !errors.Is(err, hv.ErrUnhandledMMIO) {
		t.Fatalf("straddling read error = %v", err)
	}

	if err := cs.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if a.resets != 1 || b.resets != 1 {
		t.Fatalf("reset not propagated")
	}

	if got := cs.Regions(); len(got) != 2 || got[0].Address != 0x1000 {
		t.Fatalf("regions = %+v", got)
	}
	if dev, ok := cs.Device("b"); !ok || dev != b {
		t.Fatalf("Device(b) = %v, %v", dev, ok)
	}
}

func TestChipsetBuilderRejectsConflicts(t *testing.T) {
	builder := NewBuilder()
	if err := builder.RegisterDevice("a", &testDevice{base: 0x1000, size: 0x100}); err != nil {
		t.Fatalf("register a: %v", err)
	}

	if err := builder.RegisterDevice("a", &testDevice{base: 0x5000, size: 0x100}); err == nil {
		t.Fatalf("duplicate name accepted")
	}
	if err := builder.RegisterDevice("overlap", &testDevice{base: 0x10f0, size: 0x100}); err == nil {
		t.Fatalf("overlapping region accepted")
	}
	if err := builder.RegisterDevice("empty", &testDevice{base: 0x8000, size: 0}); err == nil {
		t.Fatalf("zero-size region accepted")
	}
	if err := builder.RegisterDevice("", &testDevice{base: 0x9000, size: 0x10}); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := builder.WithMmioRegion(0xa000, 0x10, nil); err == nil {
		t.Fatalf("nil handler accepted")
	}
}

type recordingSink struct {
	calls []bool
}

func (s *recordingSink) SetIRQ(line uint8, level bool) {
	s.calls = append(s.calls, level)
}

func TestLineSetFiltersRepeatedLevels(t *testing.T) {
	sink := &recordingSink{}
	lines := NewLineSet(sink)
	line := lines.AllocateLine(3)

	line.SetLevel(true)
	line.SetLevel(true)
	line.SetLevel(false)
	line.SetLevel(false)
	line.PulseInterrupt()

	want := []bool{true, false, true, false}
	if len(sink.calls) != len(want) {
		t.Fatalf("sink calls = %v, want %v", sink.calls, want)
	}
	for i := range want {
		if sink.calls[i] != want[i] {
			t.Fatalf("sink calls = %v, want %v", sink.calls, want)
		}
	}
	if lines.Level(3) {
		t.Fatalf("pulse left the line high")
	}
}

func TestLineInterruptFromFunc(t *testing.T) {
	var levels []bool
	line := LineInterruptFromFunc(func(level bool) { levels = append(levels, level) })
	line.PulseInterrupt()
	if len(levels) != 2 || !levels[0] || levels[1] {
		t.Fatalf("levels = %v", levels)
	}

	LineInterruptDetached().SetLevel(true)
}
