// Package config loads machine descriptions for the vplic tool.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/vplic/internal/hv"
)

// Bridge kinds.
const (
	BridgeMemory = "memory"
	BridgeDevMem = "devmem"
)

// Machine describes the guest layout around the interrupt controller.
type Machine struct {
	Arch string    `yaml:"arch"`
	RAM  RAMConfig `yaml:"ram"`
	PLIC PLIC      `yaml:"plic"`
}

// RAMConfig is the guest RAM region.
type RAMConfig struct {
	Base Size `yaml:"base"`
	Size Size `yaml:"size"`
}

// PLIC configures the virtual interrupt controller.
type PLIC struct {
	Base     Size `yaml:"base"`
	Size     Size `yaml:"size"`
	Contexts int  `yaml:"contexts"`
	// Bridge selects how pass-through registers reach the host controller:
	// "memory" (default) or "devmem".
	Bridge     string `yaml:"bridge"`
	DevMemPath string `yaml:"devmem_path"`
}

// Size is a byte count or address. It accepts plain integers (including
// 0x hex) and strings with a KiB, MiB or GiB suffix.
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler for Size.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseSize(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Size.
func (s Size) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%x", uint64(s)), nil
}

// ParseSize parses a Size from its textual form.
func ParseSize(raw string) (Size, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	multiplier := uint64(1)
	for _, suffix := range []struct {
		name  string
		shift uint
	}{
		{"KiB", 10},
		{"MiB", 20},
		{"GiB", 30},
	} {
		if strings.HasSuffix(raw, suffix.name) {
			multiplier = 1 << suffix.shift
			raw = strings.TrimSpace(strings.TrimSuffix(raw, suffix.name))
			break
		}
	}

	n, err := strconv.ParseUint(strings.ReplaceAll(raw, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	if multiplier > 1 && n > ^uint64(0)/multiplier {
		return 0, fmt.Errorf("size %q overflows", raw)
	}
	return Size(n * multiplier), nil
}

// Default returns a single-hart riscv64 machine with the PLIC at its usual
// virt-board address.
func Default() *Machine {
	return &Machine{
		Arch: string(hv.ArchitectureRISCV64),
		RAM: RAMConfig{
			Base: 0x80000000,
			Size: 256 << 20,
		},
		PLIC: PLIC{
			Base:     0x0c000000,
			Size:     0x4000000,
			Contexts: 2,
			Bridge:   BridgeMemory,
		},
	}
}

// Parse decodes a machine description, filling unset fields from Default.
func Parse(data []byte) (*Machine, error) {
	m := Default()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFile reads and validates a machine description from path.
func LoadFile(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Architecture returns the parsed CPU architecture.
func (m *Machine) Architecture() (hv.CpuArchitecture, error) {
	return hv.ParseArchitecture(m.Arch)
}

// Validate checks the description for obvious mistakes. Geometry checks
// that depend on the register map are left to the device constructor.
func (m *Machine) Validate() error {
	if _, err := m.Architecture(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if m.RAM.Size == 0 {
		return fmt.Errorf("config: ram.size must be set")
	}
	if m.PLIC.Size == 0 {
		return fmt.Errorf("config: plic.size must be set")
	}
	if m.PLIC.Contexts <= 0 {
		return fmt.Errorf("config: plic.contexts must be positive, got %d", m.PLIC.Contexts)
	}

	switch m.PLIC.Bridge {
	case "", BridgeMemory:
		m.PLIC.Bridge = BridgeMemory
	case BridgeDevMem:
		if m.PLIC.DevMemPath == "" {
			m.PLIC.DevMemPath = "/dev/mem"
		}
	default:
		return fmt.Errorf("config: unknown plic.bridge %q", m.PLIC.Bridge)
	}
	return nil
}

// Marshal renders m back to YAML.
func (m *Machine) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}
