package hv

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Snapshot file format constants
const (
	SnapshotMagic   uint32 = 0x534e4150 // "SNAP"
	SnapshotVersion uint32 = 1
)

// Architecture encoding for snapshot files
const (
	SnapshotArchInvalid uint32 = 0
	SnapshotArchX86_64  uint32 = 1
	SnapshotArchARM64   uint32 = 2
	SnapshotArchRISCV64 uint32 = 3
)

// ArchToSnapshotArch converts a CpuArchitecture to its snapshot file encoding.
func ArchToSnapshotArch(arch CpuArchitecture) uint32 {
	switch arch {
	case ArchitectureX86_64:
		return SnapshotArchX86_64
	case ArchitectureARM64:
		return SnapshotArchARM64
	case ArchitectureRISCV64:
		return SnapshotArchRISCV64
	default:
		return SnapshotArchInvalid
	}
}

// SnapshotArchToArch converts a snapshot file architecture encoding to CpuArchitecture.
func SnapshotArchToArch(arch uint32) CpuArchitecture {
	switch arch {
	case SnapshotArchX86_64:
		return ArchitectureX86_64
	case SnapshotArchARM64:
		return ArchitectureARM64
	case SnapshotArchRISCV64:
		return ArchitectureRISCV64
	default:
		return ArchitectureInvalid
	}
}

// deviceSnapshotHeader precedes every encoded device snapshot.
type deviceSnapshotHeader struct {
	Magic   uint32
	Version uint32
	Arch    uint32
	IDLen   uint32
}

// deviceSnapshotEnvelope lets gob carry the concrete snapshot type behind the interface.
type deviceSnapshotEnvelope struct {
	State DeviceSnapshot
}

// EncodeDeviceSnapshot captures dev and writes it to w. Concrete snapshot
// types must be registered with gob.Register by the owning package.
func EncodeDeviceSnapshot(w io.Writer, arch CpuArchitecture, dev DeviceSnapshotter) error {
	snap, err := dev.CaptureSnapshot()
	if err != nil {
		return fmt.Errorf("snapshot: capture %q: %w", dev.DeviceId(), err)
	}

	id := dev.DeviceId()
	hdr := deviceSnapshotHeader{
		Magic:   SnapshotMagic,
		Version: SnapshotVersion,
		Arch:    ArchToSnapshotArch(arch),
		IDLen:   uint32(len(id)),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	buf.WriteString(id)
	if err := gob.NewEncoder(&buf).Encode(&deviceSnapshotEnvelope{State: snap}); err != nil {
		return fmt.Errorf("snapshot: encode %q: %w", id, err)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", id, err)
	}
	return nil
}

// DecodeDeviceSnapshot reads a snapshot produced by EncodeDeviceSnapshot and
// restores it into dev. The device id and architecture must match.
func DecodeDeviceSnapshot(r io.Reader, arch CpuArchitecture, dev DeviceSnapshotter) error {
	var hdr deviceSnapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("snapshot: read header: %w", err)
	}
	if hdr.Magic != SnapshotMagic {
		return fmt.Errorf("snapshot: bad magic 0x%08x", hdr.Magic)
	}
	if hdr.Version != SnapshotVersion {
		return fmt.Errorf("snapshot: unsupported version %d", hdr.Version)
	}
	if got := SnapshotArchToArch(hdr.Arch); got != arch {
		return fmt.Errorf("snapshot: architecture mismatch: got %s, want %s", got, arch)
	}

	id := make([]byte, hdr.IDLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return fmt.Errorf("snapshot: read device id: %w", err)
	}
	if string(id) != dev.DeviceId() {
		return fmt.Errorf("snapshot: device id mismatch: got %q, want %q", id, dev.DeviceId())
	}

	var env deviceSnapshotEnvelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("snapshot: decode %q: %w", id, err)
	}
	return dev.RestoreSnapshot(env.State)
}
