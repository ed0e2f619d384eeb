package hv

import "testing"

func TestAddressSpaceRegisterFixed(t *testing.T) {
	as := NewAddressSpace(ArchitectureRISCV64, 0x80000000, 0x10000000)

	if err := as.RegisterFixed("plic", 0x0c000000, 0x4000000); err != nil {
		t.Fatalf("register plic: %v", err)
	}
	if err := as.RegisterFixed("uart", 0x10000000, 0x100); err != nil {
		t.Fatalf("register uart: %v", err)
	}

	tests := []struct {
		name string
		base uint64
		size uint64
	}{
		{"zero size", 0x20000000, 0},
		{"overlaps ram", 0x8fff0000, 0x20000},
		{"inside plic", 0x0d000000, 0x1000},
		{"straddles plic start", 0x0bfff000, 0x2000},
		{"overflow", ^uint64(0) - 0x10, 0x100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := as.RegisterFixed(tt.name, tt.base, tt.size); err == nil {
				t.Fatalf("RegisterFixed(0x%x, 0x%x) succeeded", tt.base, tt.size)
			}
		})
	}

	regions := as.FixedRegions()
	if len(regions) != 2 || regions[0].Name != "plic" || regions[1].Name != "uart" {
		t.Fatalf("regions = %+v", regions)
	}
}

func TestAddressSpaceLookup(t *testing.T) {
	as := NewAddressSpace(ArchitectureRISCV64, 0x80000000, 0x1000)
	if err := as.RegisterFixed("plic", 0x0c000000, 0x4000000); err != nil {
		t.Fatalf("register: %v", err)
	}

	region, ok := as.Lookup(0x0c200004)
	if !ok || region.Name != "plic" {
		t.Fatalf("Lookup inside plic = %+v, %v", region, ok)
	}
	if _, ok := as.Lookup(0x10000000); ok {
		t.Fatalf("Lookup past plic matched")
	}
	if as.RAMEnd() != 0x80001000 {
		t.Fatalf("RAMEnd = 0x%x", as.RAMEnd())
	}
}

func TestAccessWidth(t *testing.T) {
	tests := []struct {
		width AccessWidth
		valid bool
		mask  uint64
	}{
		{AccessByte, true, 0xff},
		{AccessWord, true, 0xffff},
		{AccessDword, true, 0xffffffff},
		{AccessQword, true, ^uint64(0)},
		{AccessWidth(3), false, 0xffffff},
	}
	for _, tt := range tests {
		if got := tt.width.Valid(); got != tt.valid {
			t.Fatalf("%s.Valid() = %v, want %v", tt.width, got, tt.valid)
		}
		if got := tt.width.Mask(); got != tt.mask {
			t.Fatalf("%s.Mask() = 0x%x, want 0x%x", tt.width, got, tt.mask)
		}
	}
}

func TestParseArchitecture(t *testing.T) {
	for name, want := range map[string]CpuArchitecture{
		"riscv64": ArchitectureRISCV64,
		"amd64":   ArchitectureX86_64,
		"aarch64": ArchitectureARM64,
	} {
		got, err := ParseArchitecture(name)
		if err != nil || got != want {
			t.Fatalf("ParseArchitecture(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseArchitecture("mips"); err == nil {
		t.Fatalf("ParseArchitecture(mips) succeeded")
	}
}
