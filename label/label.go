// Package label models the on-disk labels of a Victor 9000 hard-disk
// image: the two-sector master label at the start of the drive and the
// one-sector label at the head of each virtual volume.
//
// The layouts are fixed-width binary records. Everything is little-endian
// except the controller-parameter block, which is consumed by the drive's
// service processor and stored big-endian.
package label

import (
	"errors"
)

// Drive-wide constants fixed by the boot ROM.
const (
	SectorSize = 512

	// MasterLabelSectors is the number of sectors reserved at the start of
	// the drive for the master label.
	MasterLabelSectors = 2
	MasterLabelSize    = MasterLabelSectors * SectorSize

	VolumeLabelSize = SectorSize

	// MaxRegionBlocks is the largest block count a single media region can
	// carry; the ROM keeps region lengths in a 16-bit counter.
	MaxRegionBlocks = 0xFFFF

	// MaxTotalBlocks bounds the sum of all working-media block counts. The
	// ROM's address fields are 21 bits wide; at or above this the length
	// arithmetic wraps to zero.
	MaxTotalBlocks = 0x80000

	// MaxVolumeSectors is the largest capacity a single virtual volume may
	// declare.
	MaxVolumeSectors = 0xFFFF
)

// Master label_type bits.
const (
	TypeQualified = 1 << 0 // label has been verified by the setup tool
	TypeMSDOS     = 1 << 1 // revised layout required by the MS-DOS loader
)

// VolumeTypeMSDOS marks a volume label as an MS-DOS (FAT) volume. Other
// values appear in the wild (maintenance volumes among them) and are
// carried opaquely.
const VolumeTypeMSDOS = 1

var (
	// ErrFormat reports a malformed or truncated label buffer.
	ErrFormat = errors.New("malformed label")

	// ErrInvariant reports a label whose fields would violate a boot-ROM
	// limit if written out.
	ErrInvariant = errors.New("label invariant violated")
)

// IPLVector is the Initial Program Load descriptor the boot ROM follows:
// where the boot code lives on disk, where it loads in RAM, and where
// execution enters.
type IPLVector struct {
	DiskAddress uint32
	LoadAddress uint16
	LoadLength  uint16
	CodeEntry   uint32
}

// IsZero reports whether the vector is all zero, as it is for volumes that
// are not bootable.
func (v IPLVector) IsZero() bool {
	return v == IPLVector{}
}

// ControllerParams is the 16-byte big-endian block of drive parameters
// passed to the disk controller.
type ControllerParams struct {
	Cylinders      uint16
	Heads          uint8
	ReducedCurrent uint16
	WritePrecomp   uint16
	ECCBurst       uint8
	FastStep       uint8
	Interleave     uint8
	Spare          [6]byte
}

// MediaRegion is a contiguous run of usable sectors. The 16-bit block
// count is a ROM limit, not a convenience.
type MediaRegion struct {
	PhysicalAddress uint32
	BlockCount      uint16
}

// VolumeDirectoryEntry locates one virtual volume's label sector. The
// directory's order is the partition order presented to the formatter.
type VolumeDirectoryEntry struct {
	LogicalAddress uint32
}

// MasterLabel is the drive-wide label held in sectors 0 and 1.
type MasterLabel struct {
	LabelType         uint16
	DeviceID          uint16
	SerialNumber      [16]byte
	SectorSize        uint16
	IPL               IPLVector
	PrimaryBootVolume uint16
	Controller        ControllerParams
	AvailableMedia    []MediaRegion
	WorkingMedia      []MediaRegion
	VirtualVolumes    []VolumeDirectoryEntry
}

// TotalWorkingBlocks sums the working-media block counts.
func (m *MasterLabel) TotalWorkingBlocks() uint32 {
	var total uint32
	for _, r := range m.WorkingMedia {
		total += uint32(r.BlockCount)
	}
	return total
}

// ConfigAssignment maps a device unit to a volume index. The table is
// written by the machine's configuration tool; this package only carries
// it through.
type ConfigAssignment struct {
	DeviceUnit  uint16
	VolumeIndex uint16
}

// VolumeLabel is the single-sector label at the head of a virtual volume.
// It doubles as the volume's boot sector on the native machine.
type VolumeLabel struct {
	LabelType        uint16
	Name             [16]byte
	IPL              IPLVector
	Capacity         uint32
	DataStart        uint32
	HostBlockSize    uint16
	AllocationUnit   uint16
	DirectoryEntries uint16
	Reserved         [16]byte
	Assignments      []ConfigAssignment
}

// SetName stores s NUL-padded, truncating past 16 bytes.
func (v *VolumeLabel) SetName(s string) {
	v.Name = [16]byte{}
	copy(v.Name[:], s)
}

// NameString returns the volume name with trailing NULs stripped.
func (v *VolumeLabel) NameString() string {
	return cstring(v.Name[:])
}

// SetSerial stores s NUL-padded into the serial-number field.
func (m *MasterLabel) SetSerial(s string) {
	m.SerialNumber = [16]byte{}
	copy(m.SerialNumber[:], s)
}

// SerialString returns the serial number with trailing NULs stripped.
func (m *MasterLabel) SerialString() string {
	return cstring(m.SerialNumber[:])
}

func cstring(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
