package inode

import (
	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/freemap"
)

var zeroSector [blockdev.SectorSize]byte

// growTo extends disk's data-sector extents, following the class order
// direct -> indirect -> double-indirect, until it reaches exactly
// targetSectors data sectors (or allocation fails). New data sectors and
// any new indirect/double-indirect index blocks are zero-filled and
// written straight to the device, bypassing the buffer cache, to avoid
// holding cache slots during what is usually a bulk structural change
// (spec §4.4).
//
// On failure partway through, every sector newly reserved during this
// call is released before returning (ErrNoSpace when the allocator runs
// out, otherwise the device error) — this is the rollback
// behaviour the reference implementation was missing (spec §9).
func growTo(dev *blockdev.Device, alloc *freemap.FreeMap, disk *Disk, targetSectors uint32) error {
	var reserved []uint32
	rollback := func() {
		for _, s := range reserved {
			alloc.Release(s, 1)
		}
	}
	allocOne := func() (uint32, bool) {
		s, ok := alloc.Allocate(1)
		if ok {
			reserved = append(reserved, s)
		}
		return s, ok
	}
	zeroFill := func(sector uint32) error {
		return dev.Write(sector, zeroSector[:])
	}

	count := disk.TotalDataSectors()

	// Direct.
	for disk.DirectCount < DirectPointers && count < targetSectors {
		sector, ok := allocOne()
		if !ok {
			rollback()
			return ErrNoSpace
		}
		if err := zeroFill(sector); err != nil {
			rollback()
			return err
		}
		disk.Index[disk.DirectCount] = sector
		disk.DirectCount++
		count++
	}

	// Indirect: 4 blocks of 128 pointers each.
	for disk.IndirectCount < MaxIndirectSectors && count < targetSectors {
		blockNum := disk.IndirectCount / PointersPerBlock
		within := disk.IndirectCount % PointersPerBlock

		indSector := disk.Index[DirectPointers+blockNum]
		if within == 0 {
			s, ok := allocOne()
			if !ok {
				rollback()
				return ErrNoSpace
			}
			if err := zeroFill(s); err != nil {
				rollback()
				return err
			}
			indSector = s
			disk.Index[DirectPointers+blockNum] = indSector
		}

		buf := make([]byte, blockdev.SectorSize)
		if err := dev.Read(indSector, buf); err != nil {
			rollback()
			return err
		}
		ptrs := decodePointerBlock(buf)

		dataSector, ok := allocOne()
		if !ok {
			rollback()
			return ErrNoSpace
		}
		if err := zeroFill(dataSector); err != nil {
			rollback()
			return err
		}
		ptrs[within] = dataSector
		if err := dev.Write(indSector, encodePointerBlock(ptrs)); err != nil {
			rollback()
			return err
		}

		disk.IndirectCount++
		count++
	}

	// Double-indirect: one block of 128 pointers to indirect blocks, each
	// of 128 data pointers.
	for disk.DoubleIndirectCount < MaxDoubleIndirectSectors && count < targetSectors {
		diSector := disk.Index[DirectPointers+IndirectPointers]
		if diSector == 0 {
			s, ok := allocOne()
			if !ok {
				rollback()
				return ErrNoSpace
			}
			if err := zeroFill(s); err != nil {
				rollback()
				return err
			}
			diSector = s
			disk.Index[DirectPointers+IndirectPointers] = diSector
		}

		diBuf := make([]byte, blockdev.SectorSize)
		if err := dev.Read(diSector, diBuf); err != nil {
			rollback()
			return err
		}
		diPtrs := decodePointerBlock(diBuf)

		outerIdx := disk.DoubleIndirectCount / PointersPerBlock
		innerIdx := disk.DoubleIndirectCount % PointersPerBlock

		indSector := diPtrs[outerIdx]
		if innerIdx == 0 {
			s, ok := allocOne()
			if !ok {
				rollback()
				return ErrNoSpace
			}
			if err := zeroFill(s); err != nil {
				rollback()
				return err
			}
			indSector = s
			diPtrs[outerIdx] = indSector
			if err := dev.Write(diSector, encodePointerBlock(diPtrs)); err != nil {
				rollback()
				return err
			}
		}

		indBuf := make([]byte, blockdev.SectorSize)
		if err := dev.Read(indSector, indBuf); err != nil {
			rollback()
			return err
		}
		indPtrs := decodePointerBlock(indBuf)

		dataSector, ok := allocOne()
		if !ok {
			rollback()
			return ErrNoSpace
		}
		if err := zeroFill(dataSector); err != nil {
			rollback()
			return err
		}
		indPtrs[innerIdx] = dataSector
		if err := dev.Write(indSector, encodePointerBlock(indPtrs)); err != nil {
			rollback()
			return err
		}

		disk.DoubleIndirectCount++
		count++
	}

	return nil
}

// deallocateAll releases every data sector and index block reachable from
// disk, class by class: direct sectors (reverse index), then each indirect
// block's data sectors followed by the block itself, then the
// double-indirect structure recursively.
func deallocateAll(dev *blockdev.Device, alloc *freemap.FreeMap, disk *Disk) {
	for i := int(disk.DirectCount) - 1; i >= 0; i-- {
		alloc.Release(disk.Index[i], 1)
	}

	indirectBlocks := (disk.IndirectCount + PointersPerBlock - 1) / PointersPerBlock
	for b := int(indirectBlocks) - 1; b >= 0; b-- {
		indSector := disk.Index[DirectPointers+b]
		buf := make([]byte, blockdev.SectorSize)
		if err := dev.Read(indSector, buf); err != nil {
			continue
		}
		ptrs := decodePointerBlock(buf)
		n := PointersPerBlock
		if b == int(indirectBlocks)-1 {
			n = int(disk.IndirectCount) - b*PointersPerBlock
		}
		for i := n - 1; i >= 0; i-- {
			alloc.Release(ptrs[i], 1)
		}
		alloc.Release(indSector, 1)
	}

	if disk.DoubleIndirectCount > 0 {
		diSector := disk.Index[DirectPointers+IndirectPointers]
		diBuf := make([]byte, blockdev.SectorSize)
		if err := dev.Read(diSector, diBuf); err == nil {
			diPtrs := decodePointerBlock(diBuf)
			outerBlocks := (disk.DoubleIndirectCount + PointersPerBlock - 1) / PointersPerBlock
			for o := int(outerBlocks) - 1; o >= 0; o-- {
				indSector := diPtrs[o]
				indBuf := make([]byte, blockdev.SectorSize)
				if err := dev.Read(indSector, indBuf); err != nil {
					continue
				}
				ptrs := decodePointerBlock(indBuf)
				n := PointersPerBlock
				if o == int(outerBlocks)-1 {
					n = int(disk.DoubleIndirectCount) - o*PointersPerBlock
				}
				for i := n - 1; i >= 0; i-- {
					alloc.Release(ptrs[i], 1)
				}
				alloc.Release(indSector, 1)
			}
		}
		alloc.Release(diSector, 1)
	}
}

// sectorForOffset returns the data sector backing byte offset pos,
// reading any indirect/double-indirect pointer blocks through the buffer
// cache (pos must be < disk.TotalDataSectors()*SectorSize).
func sectorForOffset(cache sectorReader, disk *Disk, pos uint32) (uint32, error) {
	idx := pos / blockdev.SectorSize

	if idx < DirectPointers {
		return disk.Index[idx], nil
	}
	idx -= DirectPointers

	if idx < IndirectPointers*PointersPerBlock {
		blockNum := idx / PointersPerBlock
		within := idx % PointersPerBlock
		buf := make([]byte, blockdev.SectorSize)
		if err := cache.ReadThrough(disk.Index[DirectPointers+blockNum], buf, blockdev.SectorSize, 0); err != nil {
			return 0, err
		}
		ptrs := decodePointerBlock(buf)
		return ptrs[within], nil
	}
	idx -= IndirectPointers * PointersPerBlock

	diBuf := make([]byte, blockdev.SectorSize)
	if err := cache.ReadThrough(disk.Index[DirectPointers+IndirectPointers], diBuf, blockdev.SectorSize, 0); err != nil {
		return 0, err
	}
	diPtrs := decodePointerBlock(diBuf)
	outerIdx := idx / PointersPerBlock
	innerIdx := idx % PointersPerBlock

	indBuf := make([]byte, blockdev.SectorSize)
	if err := cache.ReadThrough(diPtrs[outerIdx], indBuf, blockdev.SectorSize, 0); err != nil {
		return 0, err
	}
	ptrs := decodePointerBlock(indBuf)
	return ptrs[innerIdx], nil
}

// sectorReader is the subset of *buffercache.Cache used for index-block
// traversal, kept as an interface so extent.go does not need to import
// buffercache directly.
type sectorReader interface {
	ReadThrough(sector uint32, out []byte, size, off int) error
}
