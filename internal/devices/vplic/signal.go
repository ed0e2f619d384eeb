package vplic

import "github.com/tinyrange/vplic/internal/chipset"

// Signal is the controller's external interrupt output into the owning
// virtual CPU (VSEIP on a RISC-V hart with the H extension).
type Signal interface {
	Assert()
	Deassert()
}

// SignalFromLine drives a chipset interrupt line: Assert raises it and
// Deassert lowers it.
func SignalFromLine(line chipset.LineInterrupt) Signal {
	if line == nil {
		line = chipset.LineInterruptDetached()
	}
	return lineSignal{line: line}
}

type lineSignal struct {
	line chipset.LineInterrupt
}

func (s lineSignal) Assert()   { s.line.SetLevel(true) }
func (s lineSignal) Deassert() { s.line.SetLevel(false) }

type detachedSignal struct{}

func (detachedSignal) Assert()   {}
func (detachedSignal) Deassert() {}
