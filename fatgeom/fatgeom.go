// Package fatgeom derives FAT12 filesystem geometry for a virtual volume:
// cluster count, FAT size, root-directory size, and the location of the
// first data cluster. The arithmetic must agree exactly with the boot
// ROM's own FAT interpretation; an off-by-one here leaves the volume
// unmountable on the real machine.
package fatgeom

import (
	"errors"
	"fmt"
)

const (
	sectorSize = 512

	// DefaultAllocationUnit is the sectors-per-cluster applied when the
	// caller does not override it.
	DefaultAllocationUnit = 64

	dirEntrySize = 32

	// The volume label sector sits in front of the first FAT copy.
	reservedSectors = 1

	numFATs = 2

	// Cluster count and FAT size depend on each other; the fixed point
	// settles in two or three rounds for any ROM-legal capacity.
	maxIterations = 8
)

// ErrGeometry reports a capacity that cannot hold a FAT filesystem.
var ErrGeometry = errors.New("unusable volume geometry")

// Result is the derived geometry, with sector addresses logical to the
// volume label.
type Result struct {
	CapacitySectors  uint32
	AllocationUnit   uint32
	RootEntries      uint32
	ClusterCount     uint32
	FATBytes         uint32
	FATSectors       uint32
	FATLogical       [2]uint32 // first copy, second copy
	DirectoryBytes   uint32
	DirectorySectors uint32
	DataStartLogical uint32
}

// DataStartPhysical translates the first data cluster's logical offset to
// an absolute image sector, given the volume label's address.
func (r Result) DataStartPhysical(labelAddress uint32) uint32 {
	return labelAddress + r.DataStartLogical
}

// DefaultRootEntries picks the root-directory capacity for a volume size.
// The steps follow DOS-era conventions; callers override per volume when
// the formatter asked for something else.
func DefaultRootEntries(capacitySectors uint32) uint32 {
	switch {
	case capacitySectors <= 512:
		return 64
	case capacitySectors <= 2048:
		return 112
	case capacitySectors <= 8192:
		return 256
	case capacitySectors <= 32768:
		return 512
	default:
		return 1024
	}
}

// Compute derives FAT geometry for a volume of capacitySectors. A zero
// allocationUnit or rootEntries selects the documented default.
func Compute(capacitySectors, allocationUnit, rootEntries uint32) (Result, error) {
	if allocationUnit == 0 {
		allocationUnit = DefaultAllocationUnit
	}
	if rootEntries == 0 {
		rootEntries = DefaultRootEntries(capacitySectors)
	}

	dirBytes := rootEntries * dirEntrySize
	dirSectors := (dirBytes + sectorSize - 1) / sectorSize

	// FAT sectors depend on the cluster count and vice versa; iterate to
	// the fixed point, starting from a single-sector FAT.
	fatSectors := uint32(1)
	var clusters, fatBytes uint32
	settled := false
	for i := 0; i < maxIterations; i++ {
		overhead := reservedSectors + numFATs*fatSectors + dirSectors
		if capacitySectors < overhead+allocationUnit {
			return Result{}, fmt.Errorf("%w: %d sectors cannot hold %d overhead sectors plus one %d-sector cluster",
				ErrGeometry, capacitySectors, overhead, allocationUnit)
		}
		clusters = (capacitySectors - overhead) / allocationUnit

		// 12-bit entries: 1.5 bytes per cluster, entries 0 and 1 reserved.
		fatBytes = (3*(clusters+2) + 1) / 2
		need := (fatBytes + sectorSize - 1) / sectorSize
		if need == fatSectors {
			settled = true
			break
		}
		fatSectors = need
	}
	if !settled {
		return Result{}, fmt.Errorf("%w: FAT size did not settle for %d sectors (allocation unit %d)",
			ErrGeometry, capacitySectors, allocationUnit)
	}

	return Result{
		CapacitySectors:  capacitySectors,
		AllocationUnit:   allocationUnit,
		RootEntries:      rootEntries,
		ClusterCount:     clusters,
		FATBytes:         fatBytes,
		FATSectors:       fatSectors,
		FATLogical:       [2]uint32{reservedSectors, reservedSectors + fatSectors},
		DirectoryBytes:   dirBytes,
		DirectorySectors: dirSectors,
		DataStartLogical: reservedSectors + numFATs*fatSectors + dirSectors,
	}, nil
}
