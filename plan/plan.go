// Package plan carves a drive geometry into boot-ROM-legal media regions
// and virtual volumes, producing a fully populated master label and one
// volume label per request. It performs no I/O; see BuildImage for
// serialization.
package plan

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"

	"v9khd/fatgeom"
	"v9khd/label"
)

// Planning failures, all reported before any bytes are produced.
var (
	ErrGeometryTooLarge  = errors.New("geometry exceeds ROM address space")
	ErrVolumeTooLarge    = errors.New("volume exceeds ROM capacity limit")
	ErrCapacityExceeded  = errors.New("volumes exceed disk capacity")
	ErrBootVolume        = errors.New("boot volume index out of range")
	ErrInvalidVolumeSpec = errors.New("invalid volume request")
)

// Controller defaults for the stock Tandon/Xebec drives these images
// emulate.
const (
	defaultDeviceID       = 1
	defaultInterleave     = 5
	defaultFastStep       = 7
	defaultECCBurst       = 11
	defaultReducedCurrent = 128
	defaultWritePrecomp   = 128
)

const sectorsPerMiB = (1024 * 1024) / label.SectorSize

// Geometry is the requested drive shape.
type Geometry struct {
	Cylinders       uint32
	Heads           uint32
	SectorsPerTrack uint32
}

// TotalSectors returns the CHS product.
func (g Geometry) TotalSectors() uint64 {
	return uint64(g.Cylinders) * uint64(g.Heads) * uint64(g.SectorsPerTrack)
}

// SectorsPerCylinder returns heads × sectors-per-track.
func (g Geometry) SectorsPerCylinder() uint32 {
	return g.Heads * g.SectorsPerTrack
}

// VolumeRequest describes one virtual volume. Zero AllocationUnit or
// RootEntries picks the fatgeom defaults.
type VolumeRequest struct {
	Name           string
	SizeMiB        float64
	AllocationUnit uint32
	RootEntries    uint32
}

// Sectors converts the requested size to sectors, rounding to nearest.
func (r VolumeRequest) Sectors() uint32 {
	return uint32(math.Round(r.SizeMiB * sectorsPerMiB))
}

// Params collects everything Plan needs.
type Params struct {
	Geometry        Geometry
	Serial          string
	Volumes         []VolumeRequest
	BootVolume      int
	AlignToCylinder bool

	// LabelRevision becomes the master label_type: 1 for the original
	// layout, 2 (TypeMSDOS) for the revised layout hdsetup expects.
	LabelRevision uint16
}

// PlannedVolume pairs a volume label with its image address and derived
// FAT geometry.
type PlannedVolume struct {
	Label    *label.VolumeLabel
	Address  uint32
	Geometry fatgeom.Result
}

// Layout is a planned image: master label plus positioned volumes.
type Layout struct {
	Master       *label.MasterLabel
	Volumes      []PlannedVolume
	TotalSectors uint32
}

// Plan validates the request and lays out the image. No I/O.
func Plan(p Params) (*Layout, error) {
	g := p.Geometry
	if g.Cylinders == 0 || g.Heads == 0 || g.SectorsPerTrack == 0 {
		return nil, fmt.Errorf("%w: cylinders, heads and sectors-per-track must all be set", ErrGeometryTooLarge)
	}
	total64 := g.TotalSectors()
	if total64 >= label.MaxTotalBlocks {
		maxCyl := (label.MaxTotalBlocks - 1) / uint64(g.SectorsPerCylinder())
		return nil, fmt.Errorf("%w: %d×%d×%d is %d sectors, limit %d (reduce cylinders to ≤ %d)",
			ErrGeometryTooLarge, g.Cylinders, g.Heads, g.SectorsPerTrack, total64, label.MaxTotalBlocks, maxCyl)
	}
	total := uint32(total64)

	if len(p.Volumes) == 0 {
		return nil, fmt.Errorf("%w: no volumes requested", ErrInvalidVolumeSpec)
	}
	if p.BootVolume < 0 || p.BootVolume >= len(p.Volumes) {
		return nil, fmt.Errorf("%w: index %d with %d volumes", ErrBootVolume, p.BootVolume, len(p.Volumes))
	}

	// Check every request before laying anything out, so a bad invocation
	// reports all of its mistakes at once.
	var verr error
	for i, req := range p.Volumes {
		if req.Name == "" {
			verr = multierr.Append(verr, fmt.Errorf("%w: volume %d has no name", ErrInvalidVolumeSpec, i))
		}
		if req.SizeMiB <= 0 {
			verr = multierr.Append(verr, fmt.Errorf("%w: volume %q size must be positive", ErrInvalidVolumeSpec, req.Name))
		} else if s := req.Sectors(); s > label.MaxVolumeSectors {
			verr = multierr.Append(verr, fmt.Errorf("%w: volume %q is %d sectors, ROM limit is %d",
				ErrVolumeTooLarge, req.Name, s, label.MaxVolumeSectors))
		}
	}
	if verr != nil {
		return nil, verr
	}

	spc := g.SectorsPerCylinder()
	cursor := uint32(label.MasterLabelSectors)
	volumes := make([]PlannedVolume, 0, len(p.Volumes))
	for i, req := range p.Volumes {
		if p.AlignToCylinder && i > 0 {
			cursor = alignUp(cursor, spc)
		}
		sectors := req.Sectors()
		end := uint64(cursor) + uint64(sectors)
		if end > uint64(total) {
			return nil, fmt.Errorf("%w: volume %q ends at sector %d, disk has %d",
				ErrCapacityExceeded, req.Name, end, total)
		}

		geo, err := fatgeom.Compute(sectors, req.AllocationUnit, req.RootEntries)
		if err != nil {
			return nil, fmt.Errorf("volume %q: %w", req.Name, err)
		}

		vl := &label.VolumeLabel{
			LabelType:        label.VolumeTypeMSDOS,
			Capacity:         sectors,
			DataStart:        1,
			HostBlockSize:    label.SectorSize,
			AllocationUnit:   uint16(geo.AllocationUnit),
			DirectoryEntries: uint16(geo.RootEntries),
		}
		vl.SetName(req.Name)
		volumes = append(volumes, PlannedVolume{Label: vl, Address: cursor, Geometry: geo})
		cursor += sectors
	}

	regions := chunkRegions(total, spc)

	master := &label.MasterLabel{
		LabelType:         p.LabelRevision,
		DeviceID:          defaultDeviceID,
		SectorSize:        label.SectorSize,
		PrimaryBootVolume: uint16(p.BootVolume),
		Controller: label.ControllerParams{
			Cylinders:      uint16(g.Cylinders),
			Heads:          uint8(g.Heads),
			ReducedCurrent: defaultReducedCurrent,
			WritePrecomp:   defaultWritePrecomp,
			ECCBurst:       defaultECCBurst,
			FastStep:       defaultFastStep,
			Interleave:     defaultInterleave,
		},
		// No bad-sector history yet: both lists describe the same media.
		AvailableMedia: regions,
		WorkingMedia:   append([]label.MediaRegion(nil), regions...),
		IPL:            volumes[p.BootVolume].Label.IPL,
	}
	master.SetSerial(p.Serial)
	master.VirtualVolumes = make([]label.VolumeDirectoryEntry, len(volumes))
	for i, v := range volumes {
		master.VirtualVolumes[i].LogicalAddress = v.Address
	}
	if err := master.Validate(); err != nil {
		return nil, err
	}

	return &Layout{Master: master, Volumes: volumes, TotalSectors: total}, nil
}

func alignUp(sector, sectorsPerCylinder uint32) uint32 {
	if rem := sector % sectorsPerCylinder; rem != 0 {
		return sector + (sectorsPerCylinder - rem)
	}
	return sector
}

// chunkRegions splits the disk into consecutive regions of at most
// MaxRegionBlocks sectors, aligned to whole cylinders except for the
// final remainder.
func chunkRegions(totalSectors, sectorsPerCylinder uint32) []label.MediaRegion {
	maxChunk := uint32(label.MaxRegionBlocks)
	if cyl := maxChunk / sectorsPerCylinder; cyl > 0 {
		maxChunk = cyl * sectorsPerCylinder
	}

	var regions []label.MediaRegion
	cursor := uint32(0)
	for remaining := totalSectors; remaining > 0; {
		chunk := remaining
		if chunk > maxChunk {
			chunk = maxChunk
		}
		regions = append(regions, label.MediaRegion{
			PhysicalAddress: cursor,
			BlockCount:      uint16(chunk),
		})
		cursor += chunk
		remaining -= chunk
	}
	return regions
}

// BuildImage serializes the layout into a zero-filled buffer sized to the
// full geometry: master label at sector 0, each volume label at its
// planned address, everything else zero.
func (l *Layout) BuildImage() ([]byte, error) {
	img := make([]byte, int64(l.TotalSectors)*label.SectorSize)

	master, err := l.Master.Encode()
	if err != nil {
		return nil, err
	}
	copy(img, master)

	for _, v := range l.Volumes {
		sector, err := v.Label.Encode()
		if err != nil {
			return nil, fmt.Errorf("volume %q: %w", v.Label.NameString(), err)
		}
		copy(img[int64(v.Address)*label.SectorSize:], sector)
	}
	return img, nil
}
