package transcode

import (
	"encoding/binary"
	"fmt"

	"v9khd/fatgeom"
	"v9khd/label"
)

// Standard BPB offsets within a DOS boot sector.
const (
	bpbOffBytesPerSector    = 11
	bpbOffSectorsPerCluster = 13
	bpbOffReservedSectors   = 14
	bpbOffNumFATs           = 16
	bpbOffRootEntries       = 17
	bpbOffTotalSectors16    = 19
	bpbOffMedia             = 21
	bpbOffSectorsPerFAT     = 22
	bpbOffSectorsPerTrack   = 24
	bpbOffNumHeads          = 26
	bpbOffHiddenSectors     = 28
	bpbOffTotalSectors32    = 32

	mediaFixedDisk = 0xF8
)

type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntries       uint16
	media             uint8
	sectorsPerFAT     uint16
	totalSectors      uint32
}

// buildBootSector synthesizes the FAT12 boot sector generic tooling
// expects at the front of the extracted volume.
func buildBootSector(vl *label.VolumeLabel, geo fatgeom.Result, heads, sectorsPerTrack uint16) ([]byte, error) {
	if geo.AllocationUnit > 0xFF {
		return nil, fmt.Errorf("%w: allocation unit %d does not fit a DOS boot sector", fatgeom.ErrGeometry, geo.AllocationUnit)
	}
	sec := make([]byte, label.SectorSize)
	sec[0], sec[1], sec[2] = 0xEB, 0x3C, 0x90
	copy(sec[3:11], padRight("V9KHD", 8))
	binary.LittleEndian.PutUint16(sec[bpbOffBytesPerSector:], label.SectorSize)
	sec[bpbOffSectorsPerCluster] = uint8(geo.AllocationUnit)
	binary.LittleEndian.PutUint16(sec[bpbOffReservedSectors:], uint16(geo.FATLogical[0]))
	sec[bpbOffNumFATs] = 2
	binary.LittleEndian.PutUint16(sec[bpbOffRootEntries:], uint16(geo.RootEntries))
	binary.LittleEndian.PutUint16(sec[bpbOffTotalSectors16:], uint16(vl.Capacity))
	sec[bpbOffMedia] = mediaFixedDisk
	binary.LittleEndian.PutUint16(sec[bpbOffSectorsPerFAT:], uint16(geo.FATSectors))
	binary.LittleEndian.PutUint16(sec[bpbOffSectorsPerTrack:], sectorsPerTrack)
	binary.LittleEndian.PutUint16(sec[bpbOffNumHeads:], heads)
	binary.LittleEndian.PutUint32(sec[bpbOffHiddenSectors:], 0)
	binary.LittleEndian.PutUint32(sec[bpbOffTotalSectors32:], 0)

	// Extended boot signature with the volume's name as label.
	sec[36], sec[37], sec[38] = 0x00, 0x00, 0x29
	binary.LittleEndian.PutUint32(sec[39:], vl.IPL.DiskAddress)
	copy(sec[43:54], padRight(vl.NameString(), 11))
	copy(sec[54:62], []byte("FAT12   "))

	// Non-bootable stub: print a message and wait for a key.
	bootCode := []byte{
		0x0E,             // push cs
		0x1F,             // pop ds
		0xBE, 0x77, 0x7C, // mov si, 0x7C77 (message offset)
		0xAC,       // lodsb
		0x22, 0xC0, // and al, al
		0x74, 0x0B, // jz short 0x0B (halt)
		0x56,       // push si
		0xB4, 0x0E, // mov ah, 0x0E (teletype output)
		0xBB, 0x07, 0x00, // mov bx, 0x0007
		0xCD, 0x10, // int 0x10
		0x5E,       // pop si
		0xEB, 0xF0, // jmp short -16 (loop)
		0x32, 0xE4, // xor ah, ah
		0xCD, 0x16, // int 0x16 (wait for key)
		0xCD, 0x19, // int 0x19 (reboot)
		0xEB, 0xFE, // jmp short -2 (hang)
	}
	copy(sec[62:], bootCode)
	msg := "This volume boots on a Victor 9000 only\r\nPress any key\r\n\x00"
	copy(sec[119:], []byte(msg))

	sec[510], sec[511] = 0x55, 0xAA
	return sec, nil
}

// parseBootSector reads the BPB of an externally edited volume image.
func parseBootSector(buf []byte) (bpb, error) {
	if len(buf) < label.SectorSize {
		return bpb{}, fmt.Errorf("%w: boot sector needs %d bytes, got %d", label.ErrFormat, label.SectorSize, len(buf))
	}
	if buf[510] != 0x55 || buf[511] != 0xAA {
		return bpb{}, fmt.Errorf("%w: missing 55AA boot signature", label.ErrFormat)
	}
	b := bpb{
		bytesPerSector:    binary.LittleEndian.Uint16(buf[bpbOffBytesPerSector:]),
		sectorsPerCluster: buf[bpbOffSectorsPerCluster],
		reservedSectors:   binary.LittleEndian.Uint16(buf[bpbOffReservedSectors:]),
		numFATs:           buf[bpbOffNumFATs],
		rootEntries:       binary.LittleEndian.Uint16(buf[bpbOffRootEntries:]),
		media:             buf[bpbOffMedia],
		sectorsPerFAT:     binary.LittleEndian.Uint16(buf[bpbOffSectorsPerFAT:]),
	}
	if b.bytesPerSector != label.SectorSize {
		return bpb{}, fmt.Errorf("%w: %d bytes per sector, expected %d", label.ErrFormat, b.bytesPerSector, label.SectorSize)
	}
	b.totalSectors = uint32(binary.LittleEndian.Uint16(buf[bpbOffTotalSectors16:]))
	if b.totalSectors == 0 {
		b.totalSectors = binary.LittleEndian.Uint32(buf[bpbOffTotalSectors32:])
	}
	return b, nil
}

func padRight(s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return b
}
