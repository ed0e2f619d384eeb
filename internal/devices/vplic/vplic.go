// Package vplic implements a virtual RISC-V Platform-Level Interrupt
// Controller for guests that share a physical PLIC with the host.
//
// Priority, enable and threshold registers are passed straight through to the
// physical controller. Pending bits and the claim/complete protocol are kept
// per guest, and the device drives a single external interrupt line into the
// owning virtual CPU.
//
// Lock order: pending before active. The assigned set is never held together
// with the other two.
package vplic

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyrange/vplic/internal/chipset"
	"github.com/tinyrange/vplic/internal/hv"
)

// Config describes the geometry and collaborators of a VPLIC.
type Config struct {
	// Base is the guest physical address of the register window.
	Base uint64
	// Size of the register window in bytes. Required.
	Size uint64
	// Contexts is the number of interrupt contexts (usually one per hart).
	Contexts int

	// Bridge reaches the physical controller. Defaults to an in-memory
	// RegisterFile.
	Bridge HostBridge
	// Signal is the external interrupt line into the virtual CPU. It is
	// invoked with the pending lock held and must not call back into the
	// device.
	Signal Signal
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats counts device activity since construction.
type Stats struct {
	Claims      uint64
	EmptyClaims uint64
	Completes   uint64
	Injected    uint64
	Faults      uint64
}

type counters struct {
	claims      atomic.Uint64
	emptyClaims atomic.Uint64
	completes   atomic.Uint64
	injected    atomic.Uint64
	faults      atomic.Uint64
}

// VPLIC is a virtual PLIC instance for one guest.
type VPLIC struct {
	base     uint64
	size     uint64
	contexts int

	// hostBase is the physical address of the real controller. The guest
	// window is assumed to be identity mapped onto it.
	hostBase uint64

	assigned irqSet
	pending  irqSet
	active   irqSet

	bridge HostBridge
	signal Signal
	logger *slog.Logger

	stats counters
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*VPLIC, error) {
	if cfg.Size == 0 {
		return nil, fmt.Errorf("vplic: window size must be specified")
	}
	if cfg.Contexts <= 0 {
		return nil, fmt.Errorf("vplic: context count must be positive, got %d", cfg.Contexts)
	}
	if cfg.Base+cfg.Size < cfg.Base {
		return nil, fmt.Errorf("vplic: window 0x%x+0x%x overflows", cfg.Base, cfg.Size)
	}

	required := RequiredSize(cfg.Contexts)
	if cfg.Size <= required {
		return nil, fmt.Errorf("%w: end offset 0x%x exceeds window [0x%x, 0x%x) for %d contexts",
			ErrWindowTooSmall, required, cfg.Base, cfg.Base+cfg.Size, cfg.Contexts)
	}

	v := &VPLIC{
		base:     cfg.Base,
		size:     cfg.Size,
		contexts: cfg.Contexts,
		hostBase: cfg.Base,
		bridge:   cfg.Bridge,
		signal:   cfg.Signal,
		logger:   cfg.Logger,
	}
	if v.bridge == nil {
		v.bridge = NewRegisterFile(cfg.Size)
	}
	if v.signal == nil {
		v.signal = detachedSignal{}
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v, nil
}

// AddressRange returns the guest physical window served by the device.
func (v *VPLIC) AddressRange() (base, size uint64) {
	return v.base, v.size
}

// HostBase returns the physical address of the controller accesses are forwarded to.
func (v *VPLIC) HostBase() uint64 {
	return v.hostBase
}

// Contexts returns the configured number of interrupt contexts.
func (v *VPLIC) Contexts() int {
	return v.contexts
}

// Stats returns a copy of the activity counters.
func (v *VPLIC) Stats() Stats {
	return Stats{
		Claims:      v.stats.claims.Load(),
		EmptyClaims: v.stats.emptyClaims.Load(),
		Completes:   v.stats.completes.Load(),
		Injected:    v.stats.injected.Load(),
		Faults:      v.stats.faults.Load(),
	}
}

func (v *VPLIC) decode(op string, offset uint64, width hv.AccessWidth) (Register, error) {
	end := offset + uint64(width)
	if end < offset || end > v.size {
		return Register{}, v.fault(op, offset, width, ErrOutOfWindow)
	}
	reg, err := Decode(offset, width, v.contexts)
	if err != nil {
		return Register{}, v.fault(op, offset, width, err)
	}
	return reg, nil
}

func (v *VPLIC) fault(op string, offset uint64, width hv.AccessWidth, err error) error {
	v.stats.faults.Add(1)
	v.logger.Warn("vplic: guest access fault", "op", op, "offset", fmt.Sprintf("0x%x", offset), "width", int(width), "err", err)
	return &Fault{Op: op, Offset: offset, Width: width, Err: err}
}

// HandleRead services a guest read of width bytes at offset from the device base.
func (v *VPLIC) HandleRead(offset uint64, width hv.AccessWidth) (uint64, error) {
	reg, err := v.decode("read", offset, width)
	if err != nil {
		return 0, err
	}

	switch reg.Class {
	case ClassPending:
		return uint64(v.readPending(reg)), nil
	case ClassClaimComplete:
		return uint64(v.claim(reg.Context)), nil
	default:
		value, err := v.bridge.ReadRegister(reg.Offset, width)
		if err != nil {
			return 0, fmt.Errorf("vplic: host read %s: %w", reg, err)
		}
		return value, nil
	}
}

// HandleWrite services a guest write of width bytes at offset from the device base.
func (v *VPLIC) HandleWrite(offset uint64, width hv.AccessWidth, value uint64) error {
	reg, err := v.decode("write", offset, width)
	if err != nil {
		return err
	}

	switch reg.Class {
	case ClassPending:
		v.writePending(reg, uint32(value))
		return nil
	case ClassClaimComplete:
		v.complete(reg.Context, uint32(value))
	}

	// Pass-through classes, and completions so the physical controller
	// observes the end of service as well.
	if err := v.bridge.WriteRegister(reg.Offset, width, value&width.Mask()); err != nil {
		return fmt.Errorf("vplic: host write %s: %w", reg, err)
	}
	return nil
}

// ReadMMIO implements chipset.MmioHandler.
func (v *VPLIC) ReadMMIO(addr uint64, data []byte) error {
	if addr < v.base {
		return v.fault("read", addr, hv.AccessWidth(len(data)), ErrOutOfWindow)
	}
	value, err := v.HandleRead(addr-v.base, hv.AccessWidth(len(data)))
	if err != nil {
		return err
	}
	putLittleEndian(data, value)
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (v *VPLIC) WriteMMIO(addr uint64, data []byte) error {
	if addr < v.base {
		return v.fault("write", addr, hv.AccessWidth(len(data)), ErrOutOfWindow)
	}
	return v.HandleWrite(addr-v.base, hv.AccessWidth(len(data)), littleEndian(data))
}

func putLittleEndian(data []byte, value uint64) {
	switch len(data) {
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(data, value)
	default:
		for i := range data {
			data[i] = byte(value >> (8 * i))
		}
	}
}

func littleEndian(data []byte) uint64 {
	switch len(data) {
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	case 8:
		return binary.LittleEndian.Uint64(data)
	}
	var value uint64
	for i := 0; i < len(data) && i < 8; i++ {
		value |= uint64(data[i]) << (8 * i)
	}
	return value
}

// Start implements chipset.ChangeDeviceState.
func (v *VPLIC) Start() error {
	return nil
}

// Stop implements chipset.ChangeDeviceState.
func (v *VPLIC) Stop() error {
	return nil
}

// Reset implements chipset.ChangeDeviceState. It drops all virtual state
// and lowers the external line; host registers are left alone.
func (v *VPLIC) Reset() error {
	v.assigned.store(irqBits{})

	pending := v.pending.lock()
	*pending = irqBits{}
	active := v.active.lock()
	*active = irqBits{}
	v.active.unlock()
	v.signal.Deassert()
	v.pending.unlock()

	return nil
}

// SupportsMmio implements chipset.ChipsetDevice.
func (v *VPLIC) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []hv.MMIORegion{
			{
				Address: v.base,
				Size:    v.size,
			},
		},
		Handler: v,
	}
}

var (
	_ chipset.ChipsetDevice     = (*VPLIC)(nil)
	_ chipset.MmioHandler       = (*VPLIC)(nil)
	_ chipset.ChangeDeviceState = (*VPLIC)(nil)
)
