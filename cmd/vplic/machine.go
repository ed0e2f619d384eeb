package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tinyrange/vplic/internal/chipset"
	"github.com/tinyrange/vplic/internal/config"
	"github.com/tinyrange/vplic/internal/devices/vplic"
	"github.com/tinyrange/vplic/internal/hv"
)

// vseipLine is the chipset line the controller output is wired to.
const vseipLine = 0

// hartSink stands in for the virtual hart: it records the external
// interrupt level the controller drives.
type hartSink struct {
	mu      sync.Mutex
	level   bool
	asserts int
}

func (h *hartSink) SetIRQ(line uint8, level bool) {
	h.mu.Lock()
	h.level = level
	if level {
		h.asserts++
	}
	h.mu.Unlock()
	slog.Debug("hart: external interrupt", "line", line, "level", level)
}

func (h *hartSink) Level() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

// machine is the minimal device model the tool drives: an address map, a
// chipset dispatcher and the interrupt controller.
type machine struct {
	arch   hv.CpuArchitecture
	space  *hv.AddressSpace
	chip   *chipset.Chipset
	plic   *vplic.VPLIC
	lines  *chipset.LineSet
	hart   *hartSink
	closer io.Closer
}

func newMachine(cfg *config.Machine) (*machine, error) {
	arch, err := cfg.Architecture()
	if err != nil {
		return nil, err
	}

	m := &machine{
		arch:  arch,
		space: hv.NewAddressSpace(arch, uint64(cfg.RAM.Base), uint64(cfg.RAM.Size)),
		hart:  &hartSink{},
	}
	m.lines = chipset.NewLineSet(m.hart)

	if err := m.space.RegisterFixed("plic", uint64(cfg.PLIC.Base), uint64(cfg.PLIC.Size)); err != nil {
		return nil, err
	}

	var bridge vplic.HostBridge
	switch cfg.PLIC.Bridge {
	case config.BridgeDevMem:
		// The physical controller is assumed to sit at the guest address.
		mem, err := vplic.OpenDevMem(cfg.PLIC.DevMemPath, uint64(cfg.PLIC.Base), uint64(cfg.PLIC.Size))
		if err != nil {
			return nil, err
		}
		bridge = mem
		m.closer = mem
	default:
		bridge = vplic.NewRegisterFile(uint64(cfg.PLIC.Size))
	}

	m.plic, err = vplic.New(vplic.Config{
		Base:     uint64(cfg.PLIC.Base),
		Size:     uint64(cfg.PLIC.Size),
		Contexts: cfg.PLIC.Contexts,
		Bridge:   bridge,
		Signal:   vplic.SignalFromLine(m.lines.AllocateLine(vseipLine)),
	})
	if err != nil {
		m.Close()
		return nil, err
	}

	builder := chipset.NewBuilder()
	if err := builder.RegisterDevice("plic", m.plic); err != nil {
		m.Close()
		return nil, err
	}
	if m.chip, err = builder.Build(); err != nil {
		m.Close()
		return nil, err
	}
	if err := m.chip.Start(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *machine) Close() error {
	if m.chip != nil {
		if err := m.chip.Stop(); err != nil {
			return err
		}
	}
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// read performs a 4-byte guest read at offset from the PLIC base.
func (m *machine) read(offset uint64) (uint32, error) {
	base, _ := m.plic.AddressRange()
	data := make([]byte, vplic.RegisterWidth)
	if err := m.chip.HandleMMIO(base+offset, data, false); err != nil {
		return 0, err
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, nil
}

// write performs a 4-byte guest write at offset from the PLIC base.
func (m *machine) write(offset uint64, value uint32) error {
	base, _ := m.plic.AddressRange()
	data := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return m.chip.HandleMMIO(base+offset, data, true)
}

func (m *machine) describe(w io.Writer) {
	base, size := m.plic.AddressRange()
	fmt.Fprintf(w, "arch:      %s\n", m.arch)
	fmt.Fprintf(w, "ram:       [0x%x, 0x%x)\n", m.space.RAMBase(), m.space.RAMEnd())
	for _, region := range m.space.FixedRegions() {
		fmt.Fprintf(w, "mmio:      %-8s [0x%x, 0x%x)\n", region.Name, region.Base, region.End())
	}
	fmt.Fprintf(w, "plic:      base=0x%x size=0x%x host=0x%x contexts=%d\n", base, size, m.plic.HostBase(), m.plic.Contexts())
	fmt.Fprintf(w, "required:  0x%x bytes\n", vplic.RequiredSize(m.plic.Contexts()))
	for ctx := 0; ctx < m.plic.Contexts(); ctx++ {
		threshold := uint64(vplic.ContextCtrlOffset + ctx*vplic.ContextStride)
		fmt.Fprintf(w, "context %d: threshold=0x%x claim=0x%x\n", ctx, base+threshold, base+threshold+vplic.ClaimCompleteOffset)
	}
}
