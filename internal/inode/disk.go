package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/wicos64/persistentfs/internal/blockdev"
)

// Magic identifies a valid on-disk inode sector (spec §6).
const Magic uint32 = 0x494e4f44

const (
	DirectPointers         = 12
	IndirectPointers       = 4
	DoubleIndirectPointers = 1
	TotalPointers          = DirectPointers + IndirectPointers + DoubleIndirectPointers // 17
	PointersPerBlock       = blockdev.SectorSize / 4                                    // 128

	MaxDirectSectors         = DirectPointers * 1
	MaxIndirectSectors       = IndirectPointers * PointersPerBlock
	MaxDoubleIndirectSectors = DoubleIndirectPointers * PointersPerBlock * PointersPerBlock
)

// Disk is the on-disk inode image: exactly one sector (spec §3).
type Disk struct {
	Length               uint32
	DirectCount          uint32
	IndirectCount        uint32
	DoubleIndirectCount  uint32
	Magic                uint32
	IsDir                bool
	Index                [TotalPointers]uint32
}

func (d Disk) encode() []byte {
	buf := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Length)
	binary.LittleEndian.PutUint32(buf[4:8], d.DirectCount)
	binary.LittleEndian.PutUint32(buf[8:12], d.IndirectCount)
	binary.LittleEndian.PutUint32(buf[12:16], d.DoubleIndirectCount)
	binary.LittleEndian.PutUint32(buf[16:20], d.Magic)
	if d.IsDir {
		buf[20] = 1
	}
	off := 21
	for i := 0; i < TotalPointers; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], d.Index[i])
		off += 4
	}
	return buf
}

func decodeDisk(buf []byte) (Disk, error) {
	if len(buf) != blockdev.SectorSize {
		return Disk{}, fmt.Errorf("inode: short sector")
	}
	var d Disk
	d.Length = binary.LittleEndian.Uint32(buf[0:4])
	d.DirectCount = binary.LittleEndian.Uint32(buf[4:8])
	d.IndirectCount = binary.LittleEndian.Uint32(buf[8:12])
	d.DoubleIndirectCount = binary.LittleEndian.Uint32(buf[12:16])
	d.Magic = binary.LittleEndian.Uint32(buf[16:20])
	d.IsDir = buf[20] != 0
	off := 21
	for i := 0; i < TotalPointers; i++ {
		d.Index[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	if d.Magic != Magic {
		return Disk{}, fmt.Errorf("%w: sector magic %#x", ErrCorrupt, d.Magic)
	}
	if d.DirectCount > MaxDirectSectors || d.IndirectCount > MaxIndirectSectors || d.DoubleIndirectCount > MaxDoubleIndirectSectors {
		return Disk{}, fmt.Errorf("%w: extent counts out of range", ErrCorrupt)
	}
	return d, nil
}

// TotalDataSectors is the number of data sectors currently reachable from
// this inode across all three index classes.
func (d Disk) TotalDataSectors() uint32 {
	return d.DirectCount + d.IndirectCount + d.DoubleIndirectCount
}

func decodePointerBlock(buf []byte) [PointersPerBlock]uint32 {
	var out [PointersPerBlock]uint32
	for i := 0; i < PointersPerBlock; i++ {
		out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out
}

func encodePointerBlock(ptrs [PointersPerBlock]uint32) []byte {
	buf := make([]byte, blockdev.SectorSize)
	for i := 0; i < PointersPerBlock; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], ptrs[i])
	}
	return buf
}
