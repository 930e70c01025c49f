package transcode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"v9khd/label"
	"v9khd/plan"
)

func buildTestImage(t *testing.T) []byte {
	t.Helper()
	layout, err := plan.Plan(plan.Params{
		Geometry: plan.Geometry{Cylinders: 64, Heads: 8, SectorsPerTrack: 17},
		Serial:   "XCODE",
		Volumes: []plan.VolumeRequest{
			{Name: "ALPHA", SizeMiB: 2},
			{Name: "BETA", SizeMiB: 1.5},
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
	return img
}

func TestExtractBootSector(t *testing.T) {
	img := buildTestImage(t)
	vol, err := Extract(img, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got, want := len(vol), 4096*label.SectorSize; got != want {
		t.Fatalf("extracted %d bytes, want %d", got, want)
	}

	if vol[510] != 0x55 || vol[511] != 0xAA {
		t.Errorf("boot signature = %02x %02x, want 55 AA", vol[510], vol[511])
	}
	if got := string(vol[3:11]); got != "V9KHD   " {
		t.Errorf("OEM name = %q", got)
	}
	if bps := binary.LittleEndian.Uint16(vol[11:]); bps != label.SectorSize {
		t.Errorf("bytes/sector = %d", bps)
	}
	if spc := vol[13]; spc != 64 {
		t.Errorf("sectors/cluster = %d, want 64", spc)
	}
	if root := binary.LittleEndian.Uint16(vol[17:]); root != 256 {
		t.Errorf("root entries = %d, want 256", root)
	}
	if total := binary.LittleEndian.Uint16(vol[19:]); total != 4096 {
		t.Errorf("total sectors = %d, want 4096", total)
	}
	if media := vol[21]; media != 0xF8 {
		t.Errorf("media byte = %#x, want 0xF8", media)
	}
	if fs := string(vol[54:62]); fs != "FAT12   " {
		t.Errorf("filesystem type = %q", fs)
	}
	if name := string(vol[43:54]); name != "ALPHA      " {
		t.Errorf("volume label = %q", name)
	}
}

func TestExtractDoesNotMutateSource(t *testing.T) {
	img := buildTestImage(t)
	before := append([]byte(nil), img...)
	if _, err := Extract(img, 1); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(img, before) {
		t.Error("Extract mutated the source image")
	}
}

func TestExtractInsertRoundTrip(t *testing.T) {
	img := buildTestImage(t)
	vol, err := Extract(img, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := Insert(img, 1, vol)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Error("reinserting an unchanged volume altered the image")
	}
}

func TestInsertCarriesEdits(t *testing.T) {
	img := buildTestImage(t)
	vol, err := Extract(img, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Scribble on a data sector, well past the FAT area.
	copy(vol[100*label.SectorSize:], []byte("EDITED PAYLOAD"))

	got, err := Insert(img, 0, vol)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	master, err := label.DecodeMaster(got)
	if err != nil {
		t.Fatal(err)
	}
	addr := int64(master.VirtualVolumes[0].LogicalAddress)
	sector := got[(addr+100)*label.SectorSize:]
	if !bytes.HasPrefix(sector, []byte("EDITED PAYLOAD")) {
		t.Error("edited data sector did not survive insertion")
	}
	// The native label sector stays as the original wrote it.
	origLabel := img[addr*label.SectorSize : (addr+1)*label.SectorSize]
	newLabel := got[addr*label.SectorSize : (addr+1)*label.SectorSize]
	if !bytes.Equal(origLabel, newLabel) {
		t.Error("insertion rewrote the native volume label sector")
	}
	if bytes.Contains(newLabel, []byte("FAT12")) {
		t.Error("DOS boot sector leaked into the native label sector")
	}
}

func TestInsertRejectsGeometryChange(t *testing.T) {
	img := buildTestImage(t)
	vol, err := Extract(img, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{"reserved sectors", func(b []byte) { binary.LittleEndian.PutUint16(b[14:], 2) }},
		{"sectors per cluster", func(b []byte) { b[13] = 8 }},
		{"root entries", func(b []byte) { binary.LittleEndian.PutUint16(b[17:], 512) }},
		{"sectors per FAT", func(b []byte) { binary.LittleEndian.PutUint16(b[22:], 9) }},
		{"total sectors", func(b []byte) { binary.LittleEndian.PutUint16(b[19:], 2048) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edited := append([]byte(nil), vol...)
			tt.mutate(edited)
			if _, err := Insert(img, 0, edited); !errors.Is(err, ErrGeometryMismatch) {
				t.Errorf("Insert: got %v, want ErrGeometryMismatch", err)
			}
		})
	}
}

func TestInsertRejectsWrongLength(t *testing.T) {
	img := buildTestImage(t)
	vol, err := Extract(img, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := Insert(img, 0, vol[:len(vol)-label.SectorSize]); !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("Insert with short volume: got %v, want ErrGeometryMismatch", err)
	}
}

func TestInsertRejectsMissingSignature(t *testing.T) {
	img := buildTestImage(t)
	vol, err := Extract(img, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	vol[510], vol[511] = 0, 0
	if _, err := Insert(img, 0, vol); !errors.Is(err, label.ErrFormat) {
		t.Errorf("Insert without boot signature: got %v, want ErrFormat", err)
	}
}

// A corrupt capacity field must come back as a format error, never as an
// attempt to address (or allocate) sectors the image does not have.
func TestExtractRejectsCorruptCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint32
	}{
		// Large enough that naive 32-bit addr+capacity arithmetic wraps.
		{"wrapping capacity", 0xFFFFFFFF},
		// Within the ROM limit but past this image's end.
		{"overrunning capacity", 65535},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := buildTestImage(t)
			master, err := label.DecodeMaster(img)
			if err != nil {
				t.Fatal(err)
			}
			off := int64(master.VirtualVolumes[0].LogicalAddress) * label.SectorSize
			binary.LittleEndian.PutUint32(img[off+0x1E:], tt.capacity)

			if _, err := Extract(img, 0); !errors.Is(err, label.ErrFormat) {
				t.Errorf("Extract with capacity %#x: got %v, want ErrFormat", tt.capacity, err)
			}
			if _, err := Insert(img, 0, make([]byte, label.SectorSize)); !errors.Is(err, label.ErrFormat) {
				t.Errorf("Insert with capacity %#x: got %v, want ErrFormat", tt.capacity, err)
			}
		})
	}
}

// Maintenance and other non-MS-DOS volumes have no FAT geometry: they
// come out raw, native label included, and go back in without BPB checks.
func TestOpaqueVolumePassThrough(t *testing.T) {
	img := buildTestImage(t)
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

	vol, err := Extract(img, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(vol[:label.SectorSize], img[off:off+label.SectorSize]) {
		t.Error("opaque extract replaced the native label sector")
	}
	if bytes.Contains(vol[:label.SectorSize], []byte("FAT12")) {
		t.Error("opaque extract synthesized a DOS boot sector")
	}

	roundTrip, err := Insert(img, 1, vol)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !bytes.Equal(roundTrip, img) {
		t.Error("reinserting an unchanged opaque volume altered the image")
	}

	copy(vol[10*label.SectorSize:], []byte("RAW EDIT"))
	edited, err := Insert(img, 1, vol)
	if err != nil {
		t.Fatalf("Insert after edit: %v", err)
	}
	addr := int64(master.VirtualVolumes[1].LogicalAddress)
	if !bytes.HasPrefix(edited[(addr+10)*label.SectorSize:], []byte("RAW EDIT")) {
		t.Error("opaque edit did not reach the image")
	}
	if !bytes.Equal(edited[addr*label.SectorSize:(addr+1)*label.SectorSize], img[off:off+label.SectorSize]) {
		t.Error("opaque insertion rewrote the native label sector")
	}
}

func TestVolumeIndexOutOfRange(t *testing.T) {
	img := buildTestImage(t)
	for _, index := range []int{-1, 2, 99} {
		if _, err := Extract(img, index); !errors.Is(err, ErrVolumeIndex) {
			t.Errorf("Extract(%d): got %v, want ErrVolumeIndex", index, err)
		}
	}
}
