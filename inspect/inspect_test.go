package inspect

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"v9khd/label"
	"v9khd/plan"
)

func buildTestImage(t *testing.T) []byte {
	t.Helper()
	layout, err := plan.Plan(plan.Params{
		Geometry: plan.Geometry{Cylinders: 64, Heads: 8, SectorsPerTrack: 17},
		Serial:   "INSPECT",
		Volumes: []plan.VolumeRequest{
			{Name: "SYSTEM", SizeMiB: 2},
			{Name: "SCRATCH", SizeMiB: 1},
		},
		BootVolume:    0,
		LabelRevision: 2,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	img, err := layout.BuildImage()
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	return img
}

func TestInspect(t *testing.T) {
	img := buildTestImage(t)
	r, err := Inspect(img)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	if r.Master.SerialString() != "INSPECT" {
		t.Errorf("serial = %q", r.Master.SerialString())
	}
	if got := len(r.Volumes); got != 2 {
		t.Fatalf("report has %d volumes, want 2", got)
	}
	if got, want := r.TotalBytes, uint64(64*8*17)*label.SectorSize; got != want {
		t.Errorf("TotalBytes = %d, want %d", got, want)
	}

	sys := r.Volumes[0]
	if sys.Name != "SYSTEM" {
		t.Errorf("volume 0 name = %q", sys.Name)
	}
	if !sys.Bootable {
		t.Error("primary boot volume not reported bootable")
	}
	if !sys.HasGeometry {
		t.Fatal("MS-DOS volume has no derived geometry")
	}
	if sys.Geometry.CapacitySectors != 4096 {
		t.Errorf("volume 0 capacity = %d sectors, want 4096", sys.Geometry.CapacitySectors)
	}
	if r.Volumes[1].Bootable {
		t.Error("non-boot volume reported bootable")
	}
}

func TestInspectOpaqueVolume(t *testing.T) {
	img := buildTestImage(t)

	// Retag the second volume as a maintenance area; its label must pass
	// through without FAT interpretation.
	master, err := label.DecodeMaster(img)
	if err != nil {
		t.Fatal(err)
	}
	off := int64(master.VirtualVolumes[1].LogicalAddress) * label.SectorSize
	vl, err := label.DecodeVolume(img[off : off+label.VolumeLabelSize])
	if err != nil {
		t.Fatal(err)
	}
	vl.LabelType = 0x80
	sector, err := vl.Encode()
	if err != nil {
		t.Fatal(err)
	}
	copy(img[off:], sector)

	r, err := Inspect(img)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.Volumes[1].HasGeometry {
		t.Error("opaque volume got FAT geometry")
	}

	var buf bytes.Buffer
	r.Render(&buf, false)
	if !strings.Contains(buf.String(), "opaque") {
		t.Errorf("render does not flag the opaque volume:\n%s", buf.String())
	}
}

// Two big volumes plus a small maintenance tail: the report lists all
// three with the planned capacities and addresses.
func TestInspectThreeVolumeDrive(t *testing.T) {
	layout, err := plan.Plan(plan.Params{
		Geometry: plan.Geometry{Cylinders: 700, Heads: 10, SectorsPerTrack: 17},
		Serial:   "THREE",
		Volumes: []plan.VolumeRequest{
			{Name: "FIRST", SizeMiB: 60000.0 / 2048},
			{Name: "SECOND", SizeMiB: 58453.0 / 2048},
			{Name: "MAINT", SizeMiB: 545.0 / 2048},
		},
		LabelRevision: 2,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	img, err := layout.BuildImage()
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}

	r, err := Inspect(img)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got := len(r.Volumes); got != 3 {
		t.Fatalf("report has %d volumes, want 3", got)
	}
	want := []struct {
		name     string
		address  uint32
		capacity uint32
	}{
		{"FIRST", 2, 60000},
		{"SECOND", 60002, 58453},
		{"MAINT", 118455, 545},
	}
	for i, w := range want {
		v := r.Volumes[i]
		if v.Name != w.name || v.Address != w.address || v.Label.Capacity != w.capacity {
			t.Errorf("volume %d = %q at %d cap %d, want %q at %d cap %d",
				i, v.Name, v.Address, v.Label.Capacity, w.name, w.address, w.capacity)
		}
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect(make([]byte, 4096)); !errors.Is(err, label.ErrFormat) {
		t.Errorf("Inspect on zeroed buffer: got %v, want ErrFormat", err)
	}
}

func TestRender(t *testing.T) {
	img := buildTestImage(t)
	r, err := Inspect(img)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	var buf bytes.Buffer
	r.Render(&buf, false)
	out := buf.String()
	for _, want := range []string{"INSPECT", "SYSTEM", "SCRATCH", "VIRTUAL VOLUMES (2)", "MEDIA REGIONS"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Write precomp") {
		t.Error("non-verbose render includes controller detail")
	}

	buf.Reset()
	r.Render(&buf, true)
	out = buf.String()
	for _, want := range []string{"Write precomp", "Interleave", "clusters="} {
		if !strings.Contains(out, want) {
			t.Errorf("verbose render missing %q:\n%s", want, out)
		}
	}
}
