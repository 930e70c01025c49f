// Package inspect walks a decoded disk image and renders a structured
// report of its master label, media regions, and virtual volumes. It is
// strictly read-only.
package inspect

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"v9khd/fatgeom"
	"v9khd/label"
)

// Volume is one virtual volume's slice of the report.
type Volume struct {
	Index    int
	Name     string
	Address  uint32
	Label    *label.VolumeLabel
	Bootable bool

	// Geometry is derived for MS-DOS volumes; other volume types are
	// opaque and HasGeometry is false.
	HasGeometry bool
	Geometry    fatgeom.Result
}

// Report is the decoded view of a whole image.
type Report struct {
	Master     *label.MasterLabel
	Volumes    []Volume
	TotalBytes uint64
}

// Inspect decodes the image's labels into a report.
func Inspect(img []byte) (*Report, error) {
	master, err := label.DecodeMaster(img)
	if err != nil {
		return nil, err
	}

	r := &Report{Master: master}
	for _, region := range master.WorkingMedia {
		r.TotalBytes += uint64(region.BlockCount) * label.SectorSize
	}

	for i, entry := range master.VirtualVolumes {
		off := int64(entry.LogicalAddress) * label.SectorSize
		if off+label.VolumeLabelSize > int64(len(img)) {
			return nil, fmt.Errorf("%w: volume %d label at sector %d lies past the image end",
				label.ErrFormat, i, entry.LogicalAddress)
		}
		vl, err := label.DecodeVolume(img[off : off+label.VolumeLabelSize])
		if err != nil {
			return nil, fmt.Errorf("volume %d: %w", i, err)
		}
		v := Volume{
			Index:    i,
			Name:     vl.NameString(),
			Address:  entry.LogicalAddress,
			Label:    vl,
			Bootable: !vl.IPL.IsZero() || int(master.PrimaryBootVolume) == i,
		}
		if vl.LabelType == label.VolumeTypeMSDOS {
			if geo, err := fatgeom.Compute(vl.Capacity, uint32(vl.AllocationUnit), uint32(vl.DirectoryEntries)); err == nil {
				v.HasGeometry = true
				v.Geometry = geo
			}
		}
		r.Volumes = append(r.Volumes, v)
	}
	return r, nil
}

const lineWidth = 72

// Render prints the report. Verbose adds controller parameters, IPL
// vectors, and per-volume FAT geometry.
func (r *Report) Render(w io.Writer, verbose bool) {
	m := r.Master
	heavy := strings.Repeat("=", lineWidth)
	light := strings.Repeat("-", lineWidth)

	fmt.Fprintln(w, heavy)
	fmt.Fprintln(w, " VICTOR 9000 HARD DISK LABEL")
	fmt.Fprintln(w, heavy)
	fmt.Fprintf(w, " Serial    : %s\n", m.SerialString())
	fmt.Fprintf(w, " Label type: %#04x (qualified=%v, ms-dos=%v)\n",
		m.LabelType, m.LabelType&label.TypeQualified != 0, m.LabelType&label.TypeMSDOS != 0)
	fmt.Fprintf(w, " Geometry  : %d cylinders, %d heads\n", m.Controller.Cylinders, m.Controller.Heads)
	fmt.Fprintf(w, " Working   : %d sectors (%s)\n", m.TotalWorkingBlocks(), humanize.IBytes(r.TotalBytes))
	fmt.Fprintf(w, " Boot vol  : %d\n", m.PrimaryBootVolume)
	if verbose {
		fmt.Fprintf(w, " Device id : %d   Interleave: %d   Fast step: %d   ECC burst: %d\n",
			m.DeviceID, m.Controller.Interleave, m.Controller.FastStep, m.Controller.ECCBurst)
		fmt.Fprintf(w, " Reduced current: %d   Write precomp: %d\n",
			m.Controller.ReducedCurrent, m.Controller.WritePrecomp)
		if !m.IPL.IsZero() {
			fmt.Fprintf(w, " IPL       : disk=%d load=%#04x len=%d entry=%#08x\n",
				m.IPL.DiskAddress, m.IPL.LoadAddress, m.IPL.LoadLength, m.IPL.CodeEntry)
		}
	}

	fmt.Fprintln(w, light)
	fmt.Fprintf(w, " MEDIA REGIONS (available %d, working %d)\n", len(m.AvailableMedia), len(m.WorkingMedia))
	for i, region := range m.WorkingMedia {
		fmt.Fprintf(w, "   Region %d: start=%-7d length=%-6d sectors\n", i, region.PhysicalAddress, region.BlockCount)
	}

	fmt.Fprintln(w, light)
	fmt.Fprintf(w, " VIRTUAL VOLUMES (%d)\n", len(r.Volumes))
	for _, v := range r.Volumes {
		boot := " "
		if v.Bootable {
			boot = "*"
		}
		fmt.Fprintf(w, " %s %2d  %-16s start=%-7d capacity=%-6d (%s)\n",
			boot, v.Index, v.Name, v.Address, v.Label.Capacity,
			humanize.IBytes(uint64(v.Label.Capacity)*label.SectorSize))
		if v.Label.LabelType != label.VolumeTypeMSDOS {
			fmt.Fprintf(w, "       type=%#04x (opaque)\n", v.Label.LabelType)
			continue
		}
		if verbose && v.HasGeometry {
			g := v.Geometry
			fmt.Fprintf(w, "       cluster=%d sect  root=%d entries  FAT=%d sect at %d/%d  data at +%d\n",
				g.AllocationUnit, g.RootEntries, g.FATSectors, g.FATLogical[0], g.FATLogical[1], g.DataStartLogical)
			fmt.Fprintf(w, "       clusters=%d  (%s usable)\n", g.ClusterCount,
				humanize.IBytes(uint64(g.ClusterCount)*uint64(g.AllocationUnit)*label.SectorSize))
		}
	}
	fmt.Fprintln(w, heavy)
}
