// Package transcode moves a virtual volume between its native in-image
// form and a self-contained FAT12 image that generic tooling can mount.
// Extraction swaps the native volume label for a synthesized DOS boot
// sector; insertion reverses the swap while preserving every native-only
// byte (IPL vector, reserved area, configuration assignments) untouched.
package transcode

import (
	"errors"
	"fmt"

	"v9khd/fatgeom"
	"v9khd/label"
)

var (
	// ErrVolumeIndex reports a volume index outside the image's directory.
	ErrVolumeIndex = errors.New("volume index out of range")

	// ErrGeometryMismatch reports an edited volume whose FAT geometry no
	// longer matches the native label's pre-computed offsets. Accepting it
	// would corrupt addressing inside the volume, so this is fatal.
	ErrGeometryMismatch = errors.New("edited volume geometry differs from original")
)

// volume resolves index to the volume's label and absolute sector range.
func volume(img []byte, index int) (*label.MasterLabel, *label.VolumeLabel, uint32, error) {
	master, err := label.DecodeMaster(img)
	if err != nil {
		return nil, nil, 0, err
	}
	if index < 0 || index >= len(master.VirtualVolumes) {
		return nil, nil, 0, fmt.Errorf("%w: %d (image has %d volumes)", ErrVolumeIndex, index, len(master.VirtualVolumes))
	}
	addr := master.VirtualVolumes[index].LogicalAddress

	off := int64(addr) * label.SectorSize
	if off+label.VolumeLabelSize > int64(len(img)) {
		return nil, nil, 0, fmt.Errorf("%w: volume %d label at sector %d lies past the image end", label.ErrFormat, index, addr)
	}
	vl, err := label.DecodeVolume(img[off : off+label.VolumeLabelSize])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("volume %d: %w", index, err)
	}
	end := (int64(addr) + int64(vl.Capacity)) * label.SectorSize
	if end > int64(len(img)) {
		return nil, nil, 0, fmt.Errorf("%w: volume %d spans %d sectors past the image end", label.ErrFormat, index, vl.Capacity)
	}
	return master, vl, addr, nil
}

// Extract copies the indexed volume into a new buffer whose first sector
// is a standard FAT12 boot sector, making the result mountable by generic
// FAT tooling. Volume types other than MS-DOS carry no FAT geometry and
// come out as a raw copy, native label sector included. The source image
// is not modified.
func Extract(img []byte, index int) ([]byte, error) {
	master, vl, addr, err := volume(img, index)
	if err != nil {
		return nil, err
	}

	out := make([]byte, int64(vl.Capacity)*label.SectorSize)
	copy(out, img[int64(addr)*label.SectorSize:])
	if vl.LabelType != label.VolumeTypeMSDOS {
		return out, nil
	}

	geo, err := fatgeom.Compute(vl.Capacity, uint32(vl.AllocationUnit), uint32(vl.DirectoryEntries))
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", index, err)
	}
	heads, sectorsPerTrack := chsHint(master)
	boot, err := buildBootSector(vl, geo, heads, sectorsPerTrack)
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", index, err)
	}
	copy(out, boot)
	return out, nil
}

// Insert returns a new image that is a byte-exact copy of img except for
// the indexed volume's data sectors, which are replaced by the edited
// buffer's. The edited buffer's boot sector is stripped; the native
// volume label (IPL vector, allocation class, reserved bytes, assignment
// table) survives from the original. Opaque volume types skip the BPB
// geometry guard, since they carry none. img itself is never mutated.
func Insert(img []byte, index int, edited []byte) ([]byte, error) {
	_, vl, addr, err := volume(img, index)
	if err != nil {
		return nil, err
	}

	if got, want := int64(len(edited)), int64(vl.Capacity)*label.SectorSize; got != want {
		return nil, fmt.Errorf("%w: edited volume is %d bytes, original holds %d", ErrGeometryMismatch, got, want)
	}
	if vl.LabelType != label.VolumeTypeMSDOS {
		// Opaque volume: no BPB to check, data sectors go back as given.
		out := make([]byte, len(img))
		copy(out, img)
		copy(out[(int64(addr)+1)*label.SectorSize:], edited[label.SectorSize:])
		return out, nil
	}
	bpb, err := parseBootSector(edited)
	if err != nil {
		return nil, err
	}
	geo, err := fatgeom.Compute(vl.Capacity, uint32(vl.AllocationUnit), uint32(vl.DirectoryEntries))
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", index, err)
	}
	if uint32(bpb.reservedSectors) != geo.FATLogical[0] {
		return nil, fmt.Errorf("%w: %d reserved sectors, original uses %d", ErrGeometryMismatch, bpb.reservedSectors, geo.FATLogical[0])
	}
	if uint32(bpb.sectorsPerCluster) != geo.AllocationUnit {
		return nil, fmt.Errorf("%w: %d sectors/cluster, original uses %d", ErrGeometryMismatch, bpb.sectorsPerCluster, geo.AllocationUnit)
	}
	if uint32(bpb.rootEntries) != geo.RootEntries {
		return nil, fmt.Errorf("%w: %d root entries, original uses %d", ErrGeometryMismatch, bpb.rootEntries, geo.RootEntries)
	}
	if uint32(bpb.sectorsPerFAT) != geo.FATSectors {
		return nil, fmt.Errorf("%w: %d sectors/FAT, original uses %d", ErrGeometryMismatch, bpb.sectorsPerFAT, geo.FATSectors)
	}
	if bpb.totalSectors != vl.Capacity {
		return nil, fmt.Errorf("%w: %d total sectors, original volume has %d", ErrGeometryMismatch, bpb.totalSectors, vl.Capacity)
	}

	out := make([]byte, len(img))
	copy(out, img)
	// Skip the boot sector on both sides: the native label sector stays as
	// it was, the data sectors come from the edit.
	dst := (int64(addr) + 1) * label.SectorSize
	copy(out[dst:], edited[label.SectorSize:])
	return out, nil
}

// chsHint derives sectors-per-track for the boot sector's geometry fields
// from the master label, which stores cylinders and heads but not the
// track length.
func chsHint(master *label.MasterLabel) (heads, sectorsPerTrack uint16) {
	heads = uint16(master.Controller.Heads)
	cyl := uint32(master.Controller.Cylinders)
	if total := master.TotalWorkingBlocks(); cyl > 0 && heads > 0 {
		sectorsPerTrack = uint16(total / (cyl * uint32(heads)))
	}
	return heads, sectorsPerTrack
}
