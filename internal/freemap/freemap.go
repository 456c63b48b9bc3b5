// Package freemap implements the persistent free-sector allocator (C2):
// allocate/release of contiguous sector runs, backed by a bitmap that is
// itself persisted on the device.
//
// The bitmap's own data sectors cannot be handed out by the general
// indexed-inode allocation machinery (internal/inode) — that machinery
// calls back into this package to get sectors, so bootstrapping the
// bitmap through it would be circular. Mirroring Pintos's free-map.c,
// the bitmap's backing sectors are instead a single contiguous run
// reserved directly at Format time, addressed by (start, count) rather
// than through the inode index scheme.
package freemap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/metrics"
)

// Magic identifies a formatted free-map header sector.
const Magic uint32 = 0x46524545 // "FREE"

// HeaderSector is the fixed sector holding the free-map's own metadata.
const HeaderSector uint32 = 0

// RootDirSector is the fixed sector holding the root directory inode.
const RootDirSector uint32 = 1

type header struct {
	magic        uint32
	totalSectors uint32
	bitmapStart  uint32
	bitmapCount  uint32
}

func (h header) encode() []byte {
	buf := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.totalSectors)
	binary.LittleEndian.PutUint32(buf[8:12], h.bitmapStart)
	binary.LittleEndian.PutUint32(buf[12:16], h.bitmapCount)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != blockdev.SectorSize {
		return header{}, fmt.Errorf("freemap: short header sector")
	}
	h := header{
		magic:        binary.LittleEndian.Uint32(buf[0:4]),
		totalSectors: binary.LittleEndian.Uint32(buf[4:8]),
		bitmapStart:  binary.LittleEndian.Uint32(buf[8:12]),
		bitmapCount:  binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.magic != Magic {
		return header{}, fmt.Errorf("freemap: bad magic %#x", h.magic)
	}
	return h, nil
}

// FreeMap is the in-memory free-sector bitmap, mirrored to the device.
// All operations are serialized by its own lock; callers must never hold a
// buffer-cache lock while calling into FreeMap (lock ordering, spec §5).
type FreeMap struct {
	mu  sync.Mutex
	dev *blockdev.Device
	hdr header
	// bits[i] set means sector i is in use. Length is a whole number of
	// bytes covering hdr.totalSectors bits.
	bits    []byte
	metrics *metrics.Allocator
}

func bitmapByteLen(totalSectors uint32) uint32 {
	return (totalSectors + 7) / 8
}

func bitmapSectorCount(totalSectors uint32) uint32 {
	nbytes := bitmapByteLen(totalSectors)
	return (nbytes + blockdev.SectorSize - 1) / blockdev.SectorSize
}

// Format lays out a fresh free-map on dev, reserving:
//   - sector 0: the free-map header
//   - sector 1: the root directory inode (reserved, not yet written here)
//   - the following contiguous run: the bitmap's own data sectors
//
// and marks all three regions used in the bitmap itself before persisting.
func Format(dev *blockdev.Device) (*FreeMap, error) {
	total := dev.Size()
	bmSectors := bitmapSectorCount(total)
	bmStart := RootDirSector + 1

	if uint32(bmStart)+bmSectors > total {
		return nil, fmt.Errorf("freemap: device too small (%d sectors) to hold bitmap (%d sectors)", total, bmSectors)
	}

	fm := &FreeMap{
		dev: dev,
		hdr: header{
			magic:        Magic,
			totalSectors: total,
			bitmapStart:  bmStart,
			bitmapCount:  bmSectors,
		},
		bits:    make([]byte, bitmapByteLen(total)),
		metrics: metrics.NewAllocator(),
	}

	// Reserve header, root dir, and the bitmap's own sectors directly —
	// these were never handed out by Allocate.
	fm.markRange(HeaderSector, 1, true)
	fm.markRange(RootDirSector, 1, true)
	fm.markRange(bmStart, bmSectors, true)

	if err := fm.persist(); err != nil {
		return nil, err
	}
	fm.metrics.SetFree(fm.countFree())
	return fm, nil
}

// Open loads an existing free-map from dev, reading the header and bitmap
// sectors directly (not through the buffer cache — the allocator owns its
// own sector I/O path, per spec §5's lock-ordering rationale).
func Open(dev *blockdev.Device) (*FreeMap, error) {
	hdrBuf := make([]byte, blockdev.SectorSize)
	if err := dev.Read(HeaderSector, hdrBuf); err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	if hdr.totalSectors != dev.Size() {
		return nil, fmt.Errorf("freemap: header total sectors %d != device size %d", hdr.totalSectors, dev.Size())
	}

	bits := make([]byte, bitmapByteLen(hdr.totalSectors))
	sec := make([]byte, blockdev.SectorSize)
	off := 0
	for i := uint32(0); i < hdr.bitmapCount; i++ {
		if err := dev.Read(hdr.bitmapStart+i, sec); err != nil {
			return nil, err
		}
		n := copy(bits[off:], sec)
		off += n
	}

	fm := &FreeMap{
		dev:     dev,
		hdr:     hdr,
		bits:    bits,
		metrics: metrics.NewAllocator(),
	}
	fm.metrics.SetFree(fm.countFree())
	return fm, nil
}

func (fm *FreeMap) markRange(start, count uint32, used bool) {
	for i := start; i < start+count; i++ {
		byteIdx, bit := i/8, i%8
		if used {
			fm.bits[byteIdx] |= 1 << bit
		} else {
			fm.bits[byteIdx] &^= 1 << bit
		}
	}
}

func (fm *FreeMap) isUsed(i uint32) bool {
	byteIdx, bit := i/8, i%8
	return fm.bits[byteIdx]&(1<<bit) != 0
}

func (fm *FreeMap) countFree() uint32 {
	var free uint32
	for i := uint32(0); i < fm.hdr.totalSectors; i++ {
		if !fm.isUsed(i) {
			free++
		}
	}
	return free
}

func (fm *FreeMap) persist() error {
	if err := fm.dev.Write(HeaderSector, fm.hdr.encode()); err != nil {
		return err
	}
	sec := make([]byte, blockdev.SectorSize)
	for i := uint32(0); i < fm.hdr.bitmapCount; i++ {
		for b := range sec {
			sec[b] = 0
		}
		start := int(i) * blockdev.SectorSize
		end := start + blockdev.SectorSize
		if start < len(fm.bits) {
			if end > len(fm.bits) {
				end = len(fm.bits)
			}
			copy(sec, fm.bits[start:end])
		}
		if err := fm.dev.Write(fm.hdr.bitmapStart+i, sec); err != nil {
			return err
		}
	}
	return nil
}

// Allocate finds a contiguous run of n free sectors, marks them used, and
// persists the bitmap. It returns the index of the first sector and true
// on success; on failure (no sufficiently large run) it returns false and
// leaves the bitmap untouched (out-of-space, spec §7).
func (fm *FreeMap) Allocate(n uint32) (first uint32, ok bool) {
	if n == 0 {
		return 0, true
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()

	run := uint32(0)
	runStart := uint32(0)
	for i := uint32(0); i < fm.hdr.totalSectors; i++ {
		if !fm.isUsed(i) {
			if run == 0 {
				runStart = i
			}
			run++
			if run == n {
				fm.markRange(runStart, n, true)
				if err := fm.persist(); err != nil {
					// Roll back the in-memory marking; the device copy was
					// never updated, so the two stay consistent.
					fm.markRange(runStart, n, false)
					return 0, false
				}
				fm.metrics.AddAllocated(n)
				fm.metrics.SetFree(fm.countFree())
				return runStart, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Release frees n sectors starting at first and persists the bitmap.
func (fm *FreeMap) Release(first, n uint32) {
	if n == 0 {
		return
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.markRange(first, n, false)
	if err := fm.persist(); err != nil {
		// Best effort: the in-memory bitmap is still correct for this
		// process's lifetime even if the persisted copy lags.
		return
	}
	fm.metrics.AddReleased(n)
	fm.metrics.SetFree(fm.countFree())
}

// FreeSectors returns the number of currently-free sectors. Observability
// only; never used by correctness-critical code paths.
func (fm *FreeMap) FreeSectors() uint32 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.countFree()
}
