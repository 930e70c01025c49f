package fatgeom

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestComputeKnownValues(t *testing.T) {
	tests := []struct {
		name                         string
		capacity, allocUnit, rootEnt uint32
		want                         Result
	}{
		{
			// 1 MiB volume: 112 root entries fill 7 sectors, one FAT sector
			// covers the 31 clusters.
			name:     "one MiB defaults",
			capacity: 2048,
			want: Result{
				CapacitySectors:  2048,
				AllocationUnit:   64,
				RootEntries:      112,
				ClusterCount:     31,
				FATBytes:         50,
				FATSectors:       1,
				FATLogical:       [2]uint32{1, 2},
				DirectoryBytes:   3584,
				DirectorySectors: 7,
				DataStartLogical: 10,
			},
		},
		{
			// 30 MiB volume: the FAT grows to 3 sectors and the count
			// settles on the second round.
			name:     "thirty MiB defaults",
			capacity: 61440,
			want: Result{
				CapacitySectors:  61440,
				AllocationUnit:   64,
				RootEntries:      1024,
				ClusterCount:     958,
				FATBytes:         1440,
				FATSectors:       3,
				FATLogical:       [2]uint32{1, 4},
				DirectoryBytes:   32768,
				DirectorySectors: 64,
				DataStartLogical: 71,
			},
		},
		{
			name:      "small clusters",
			capacity:  2048,
			allocUnit: 8,
			rootEnt:   64,
			want: Result{
				CapacitySectors:  2048,
				AllocationUnit:   8,
				RootEntries:      64,
				ClusterCount:     255,
				FATBytes:         386,
				FATSectors:       1,
				FATLogical:       [2]uint32{1, 2},
				DirectoryBytes:   2048,
				DirectorySectors: 4,
				DataStartLogical: 7,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.capacity, tt.allocUnit, tt.rootEnt)
			if err != nil {
				t.Fatalf("Compute(%d, %d, %d): %v", tt.capacity, tt.allocUnit, tt.rootEnt, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compute(%d, %d, %d) mismatch (-want +got):\n%s",
					tt.capacity, tt.allocUnit, tt.rootEnt, diff)
			}
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	a, err := Compute(61440, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute(61440, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Compute not deterministic: %+v vs %+v", a, b)
	}
}

func TestComputeTooSmall(t *testing.T) {
	for _, capacity := range []uint32{0, 1, 10, 70} {
		if _, err := Compute(capacity, 64, 64); !errors.Is(err, ErrGeometry) {
			t.Errorf("Compute(%d): got %v, want ErrGeometry", capacity, err)
		}
	}
}

// Growing a volume never shrinks its cluster count: the boot volume can
// be extended without invalidating files already placed by the geometry.
func TestComputeMonotonic(t *testing.T) {
	var prev uint32
	for capacity := uint32(1024); capacity <= 65535; capacity += 997 {
		got, err := Compute(capacity, 64, 512)
		if err != nil {
			t.Fatalf("Compute(%d): %v", capacity, err)
		}
		if got.ClusterCount < prev {
			t.Fatalf("cluster count fell from %d to %d at capacity %d", prev, got.ClusterCount, capacity)
		}
		prev = got.ClusterCount
	}
}

// The derived pieces must tile the volume: label, FATs, directory, then
// whole clusters, with less than one cluster of slack.
func TestComputeAccounting(t *testing.T) {
	for capacity := uint32(2048); capacity <= 65535; capacity += 4999 {
		got, err := Compute(capacity, 64, 0)
		if err != nil {
			t.Fatalf("Compute(%d): %v", capacity, err)
		}
		used := got.DataStartLogical + got.ClusterCount*got.AllocationUnit
		if used > capacity {
			t.Errorf("capacity %d: layout uses %d sectors", capacity, used)
		}
		if capacity-used >= got.AllocationUnit {
			t.Errorf("capacity %d: %d slack sectors, a whole cluster wasted", capacity, capacity-used)
		}
		if got.FATSectors*sectorSize < got.FATBytes {
			t.Errorf("capacity %d: %d FAT sectors cannot hold %d bytes", capacity, got.FATSectors, got.FATBytes)
		}
	}
}

func TestDefaultRootEntries(t *testing.T) {
	tests := []struct {
		capacity uint32
		want     uint32
	}{
		{256, 64},
		{512, 64},
		{513, 112},
		{2048, 112},
		{8192, 256},
		{32768, 512},
		{61440, 1024},
	}
	for _, tt := range tests {
		if got := DefaultRootEntries(tt.capacity); got != tt.want {
			t.Errorf("DefaultRootEntries(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func TestDataStartPhysical(t *testing.T) {
	got, err := Compute(61440, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if abs := got.DataStartPhysical(20482); abs != 20482+71 {
		t.Errorf("DataStartPhysical(20482) = %d, want %d", abs, 20482+71)
	}
}
