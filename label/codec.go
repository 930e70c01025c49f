package label

import (
	"encoding/binary"
	"fmt"
)

// Fixed offsets inside the master label.
const (
	masterOffType       = 0x00
	masterOffDeviceID   = 0x02
	masterOffSerial     = 0x04
	masterOffSectorSize = 0x14
	masterOffIPL        = 0x16
	masterOffBootVolume = 0x22
	masterOffController = 0x24
	masterOffLists      = 0x34

	regionEntrySize    = 6
	directoryEntrySize = 4
	iplVectorSize      = 12
)

// Fixed offsets inside a volume label.
const (
	volumeOffType        = 0x00
	volumeOffName        = 0x02
	volumeOffIPL         = 0x12
	volumeOffCapacity    = 0x1E
	volumeOffDataStart   = 0x22
	volumeOffBlockSize   = 0x26
	volumeOffAllocUnit   = 0x28
	volumeOffDirEntries  = 0x2A
	volumeOffReserved    = 0x2C
	volumeOffAssignments = 0x3C

	assignmentEntrySize = 4
)

func putIPL(b []byte, v IPLVector) {
	binary.LittleEndian.PutUint32(b[0:], v.DiskAddress)
	binary.LittleEndian.PutUint16(b[4:], v.LoadAddress)
	binary.LittleEndian.PutUint16(b[6:], v.LoadLength)
	binary.LittleEndian.PutUint32(b[8:], v.CodeEntry)
}

func getIPL(b []byte) IPLVector {
	return IPLVector{
		DiskAddress: binary.LittleEndian.Uint32(b[0:]),
		LoadAddress: binary.LittleEndian.Uint16(b[4:]),
		LoadLength:  binary.LittleEndian.Uint16(b[6:]),
		CodeEntry:   binary.LittleEndian.Uint32(b[8:]),
	}
}

// Validate checks the master label against the boot-ROM limits before it
// is written out.
func (m *MasterLabel) Validate() error {
	if m.SectorSize != SectorSize {
		return fmt.Errorf("%w: sector_size must be %d, got %d", ErrInvariant, SectorSize, m.SectorSize)
	}
	if n := len(m.AvailableMedia); n > 0xFF {
		return fmt.Errorf("%w: available_media holds %d regions, limit 255", ErrInvariant, n)
	}
	if n := len(m.WorkingMedia); n > 0xFF {
		return fmt.Errorf("%w: working_media holds %d regions, limit 255", ErrInvariant, n)
	}
	if n := len(m.VirtualVolumes); n > 0xFF {
		return fmt.Errorf("%w: virtual_volumes holds %d entries, limit 255", ErrInvariant, n)
	}
	if total := m.TotalWorkingBlocks(); total >= MaxTotalBlocks {
		return fmt.Errorf("%w: working_media totals %d sectors, ROM limit is %d", ErrInvariant, total, MaxTotalBlocks)
	}
	if size := m.encodedSize(); size > MasterLabelSize {
		return fmt.Errorf("%w: label needs %d bytes, two sectors hold %d", ErrInvariant, size, MasterLabelSize)
	}
	if int(m.PrimaryBootVolume) >= len(m.VirtualVolumes) && len(m.VirtualVolumes) > 0 {
		return fmt.Errorf("%w: primary_boot_volume %d out of range (%d volumes)", ErrInvariant, m.PrimaryBootVolume, len(m.VirtualVolumes))
	}
	return nil
}

func (m *MasterLabel) encodedSize() int {
	return masterOffLists +
		1 + len(m.AvailableMedia)*regionEntrySize +
		1 + len(m.WorkingMedia)*regionEntrySize +
		1 + len(m.VirtualVolumes)*directoryEntrySize
}

// Encode serializes the master label into two zero-padded sectors.
func (m *MasterLabel) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, MasterLabelSize)
	binary.LittleEndian.PutUint16(buf[masterOffType:], m.LabelType)
	binary.LittleEndian.PutUint16(buf[masterOffDeviceID:], m.DeviceID)
	copy(buf[masterOffSerial:], m.SerialNumber[:])
	binary.LittleEndian.PutUint16(buf[masterOffSectorSize:], m.SectorSize)
	putIPL(buf[masterOffIPL:], m.IPL)
	binary.LittleEndian.PutUint16(buf[masterOffBootVolume:], m.PrimaryBootVolume)

	// Controller parameters are big-endian.
	c := buf[masterOffController:]
	binary.BigEndian.PutUint16(c[0:], m.Controller.Cylinders)
	c[2] = m.Controller.Heads
	binary.BigEndian.PutUint16(c[3:], m.Controller.ReducedCurrent)
	binary.BigEndian.PutUint16(c[5:], m.Controller.WritePrecomp)
	c[7] = m.Controller.ECCBurst
	c[8] = m.Controller.FastStep
	c[9] = m.Controller.Interleave
	copy(c[10:16], m.Controller.Spare[:])

	off := masterOffLists
	off = putRegions(buf, off, m.AvailableMedia)
	off = putRegions(buf, off, m.WorkingMedia)
	buf[off] = byte(len(m.VirtualVolumes))
	off++
	for _, v := range m.VirtualVolumes {
		binary.LittleEndian.PutUint32(buf[off:], v.LogicalAddress)
		off += directoryEntrySize
	}
	return buf, nil
}

func putRegions(buf []byte, off int, regions []MediaRegion) int {
	buf[off] = byte(len(regions))
	off++
	for _, r := range regions {
		binary.LittleEndian.PutUint32(buf[off:], r.PhysicalAddress)
		binary.LittleEndian.PutUint16(buf[off+4:], r.BlockCount)
		off += regionEntrySize
	}
	return off
}

// DecodeMaster parses the first two sectors of an image.
func DecodeMaster(buf []byte) (*MasterLabel, error) {
	if len(buf) < MasterLabelSize {
		return nil, fmt.Errorf("%w: master label needs %d bytes, got %d", ErrFormat, MasterLabelSize, len(buf))
	}
	m := &MasterLabel{
		LabelType:         binary.LittleEndian.Uint16(buf[masterOffType:]),
		DeviceID:          binary.LittleEndian.Uint16(buf[masterOffDeviceID:]),
		SectorSize:        binary.LittleEndian.Uint16(buf[masterOffSectorSize:]),
		IPL:               getIPL(buf[masterOffIPL:]),
		PrimaryBootVolume: binary.LittleEndian.Uint16(buf[masterOffBootVolume:]),
	}
	copy(m.SerialNumber[:], buf[masterOffSerial:masterOffSerial+16])
	if m.SectorSize != SectorSize {
		return nil, fmt.Errorf("%w: sector_size %d at offset %#x, expected %d", ErrFormat, m.SectorSize, masterOffSectorSize, SectorSize)
	}

	c := buf[masterOffController:]
	m.Controller = ControllerParams{
		Cylinders:      binary.BigEndian.Uint16(c[0:]),
		Heads:          c[2],
		ReducedCurrent: binary.BigEndian.Uint16(c[3:]),
		WritePrecomp:   binary.BigEndian.Uint16(c[5:]),
		ECCBurst:       c[7],
		FastStep:       c[8],
		Interleave:     c[9],
	}
	copy(m.Controller.Spare[:], c[10:16])

	off := masterOffLists
	var err error
	if m.AvailableMedia, off, err = getRegions(buf, off); err != nil {
		return nil, err
	}
	if m.WorkingMedia, off, err = getRegions(buf, off); err != nil {
		return nil, err
	}
	count := int(buf[off])
	off++
	if off+count*directoryEntrySize > MasterLabelSize {
		return nil, fmt.Errorf("%w: %d volume entries at offset %#x overrun the label", ErrFormat, count, off)
	}
	m.VirtualVolumes = make([]VolumeDirectoryEntry, count)
	for i := range m.VirtualVolumes {
		m.VirtualVolumes[i].LogicalAddress = binary.LittleEndian.Uint32(buf[off:])
		off += directoryEntrySize
	}
	return m, nil
}

func getRegions(buf []byte, off int) ([]MediaRegion, int, error) {
	count := int(buf[off])
	off++
	if off+count*regionEntrySize > MasterLabelSize {
		return nil, 0, fmt.Errorf("%w: %d region entries at offset %#x overrun the label", ErrFormat, count, off)
	}
	regions := make([]MediaRegion, count)
	for i := range regions {
		regions[i].PhysicalAddress = binary.LittleEndian.Uint32(buf[off:])
		regions[i].BlockCount = binary.LittleEndian.Uint16(buf[off+4:])
		off += regionEntrySize
	}
	return regions, off, nil
}

// Validate checks a volume label before encoding.
func (v *VolumeLabel) Validate() error {
	if v.HostBlockSize != SectorSize {
		return fmt.Errorf("%w: host_block_size must be %d, got %d", ErrInvariant, SectorSize, v.HostBlockSize)
	}
	if v.Capacity > MaxVolumeSectors {
		return fmt.Errorf("%w: capacity %d sectors exceeds ROM limit %d", ErrInvariant, v.Capacity, MaxVolumeSectors)
	}
	if size := volumeOffAssignments + 1 + len(v.Assignments)*assignmentEntrySize; size > VolumeLabelSize {
		return fmt.Errorf("%w: %d configuration assignments overrun the label sector", ErrInvariant, len(v.Assignments))
	}
	return nil
}

// Encode serializes the volume label into one zero-padded sector.
func (v *VolumeLabel) Encode() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, VolumeLabelSize)
	binary.LittleEndian.PutUint16(buf[volumeOffType:], v.LabelType)
	copy(buf[volumeOffName:], v.Name[:])
	putIPL(buf[volumeOffIPL:], v.IPL)
	binary.LittleEndian.PutUint32(buf[volumeOffCapacity:], v.Capacity)
	binary.LittleEndian.PutUint32(buf[volumeOffDataStart:], v.DataStart)
	binary.LittleEndian.PutUint16(buf[volumeOffBlockSize:], v.HostBlockSize)
	binary.LittleEndian.PutUint16(buf[volumeOffAllocUnit:], v.AllocationUnit)
	binary.LittleEndian.PutUint16(buf[volumeOffDirEntries:], v.DirectoryEntries)
	copy(buf[volumeOffReserved:], v.Reserved[:])

	off := volumeOffAssignments
	buf[off] = byte(len(v.Assignments))
	off++
	for _, a := range v.Assignments {
		binary.LittleEndian.PutUint16(buf[off:], a.DeviceUnit)
		binary.LittleEndian.PutUint16(buf[off+2:], a.VolumeIndex)
		off += assignmentEntrySize
	}
	return buf, nil
}

// DecodeVolume parses a volume label from its sector.
func DecodeVolume(buf []byte) (*VolumeLabel, error) {
	if len(buf) < VolumeLabelSize {
		return nil, fmt.Errorf("%w: volume label needs %d bytes, got %d", ErrFormat, VolumeLabelSize, len(buf))
	}
	v := &VolumeLabel{
		LabelType:        binary.LittleEndian.Uint16(buf[volumeOffType:]),
		IPL:              getIPL(buf[volumeOffIPL:]),
		Capacity:         binary.LittleEndian.Uint32(buf[volumeOffCapacity:]),
		DataStart:        binary.LittleEndian.Uint32(buf[volumeOffDataStart:]),
		HostBlockSize:    binary.LittleEndian.Uint16(buf[volumeOffBlockSize:]),
		AllocationUnit:   binary.LittleEndian.Uint16(buf[volumeOffAllocUnit:]),
		DirectoryEntries: binary.LittleEndian.Uint16(buf[volumeOffDirEntries:]),
	}
	copy(v.Name[:], buf[volumeOffName:volumeOffName+16])
	copy(v.Reserved[:], buf[volumeOffReserved:volumeOffReserved+16])
	if v.HostBlockSize != SectorSize {
		return nil, fmt.Errorf("%w: host_block_size %d at offset %#x, expected %d", ErrFormat, v.HostBlockSize, volumeOffBlockSize, SectorSize)
	}
	if v.Capacity > MaxVolumeSectors {
		return nil, fmt.Errorf("%w: capacity %d at offset %#x exceeds ROM limit %d", ErrFormat, v.Capacity, volumeOffCapacity, MaxVolumeSectors)
	}

	off := volumeOffAssignments
	count := int(buf[off])
	off++
	if off+count*assignmentEntrySize > VolumeLabelSize {
		return nil, fmt.Errorf("%w: %d assignment entries at offset %#x overrun the label", ErrFormat, count, off)
	}
	v.Assignments = make([]ConfigAssignment, count)
	for i := range v.Assignments {
		v.Assignments[i].DeviceUnit = binary.LittleEndian.Uint16(buf[off:])
		v.Assignments[i].VolumeIndex = binary.LittleEndian.Uint16(buf[off+2:])
		off += assignmentEntrySize
	}
	return v, nil
}
