// Package inode implements the indexed inode & extent engine (C4): the
// on-disk inode format, the process-wide open-inode identity table, and
// create/open/close/read/write/grow/deallocate.
//
// Grounded on Pintos's filesys/inode.c: the direct/indirect/double-indirect
// index scheme, the single global growth lock, the deny-write counter, and
// the readable_length barrier that lets a grown file's tail become visible
// only after the new bytes are actually written.
package inode

import (
	"fmt"
	"sync"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/freemap"
)

// Inode is the in-memory handle for one on-disk inode. At most one Inode
// exists process-wide for a given sector (spec §3 identity rule); reopens
// bump openCount instead of allocating a new handle.
type Inode struct {
	mu sync.Mutex

	sector    uint32
	openCount int
	deleted   bool
	denyCount int

	// readableLength is the horizon readers are clipped to; it only ever
	// advances, and only once a growing write's data has fully landed.
	readableLength uint32

	disk Disk
}

func (ino *Inode) Sector() uint32 { return ino.sector }

// Stat reports length/is_dir/sector — used by filesize/isdir/inumber.
type Info struct {
	Sector uint32
	Length uint32
	IsDir  bool
}

func (ino *Inode) Stat() Info {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return Info{Sector: ino.sector, Length: ino.disk.Length, IsDir: ino.disk.IsDir}
}

// Engine owns the device, buffer cache, free-sector allocator, the
// process-wide open-inode table, and the single global growth lock. It is
// passed explicitly rather than reached via ambient globals (spec §9
// design note).
type Engine struct {
	dev   *blockdev.Device
	cache *buffercache.Cache
	alloc *freemap.FreeMap

	tableMu sync.Mutex
	open    map[uint32]*Inode

	growthMu sync.Mutex
}

func NewEngine(dev *blockdev.Device, cache *buffercache.Cache, alloc *freemap.FreeMap) *Engine {
	return &Engine{
		dev:   dev,
		cache: cache,
		alloc: alloc,
		open:  make(map[uint32]*Inode),
	}
}

// AllocateSector reserves one free sector to serve as a new inode's home
// sector. Callers (directory.Mkdir/CreateFile et al.) allocate the home
// sector before calling Create, mirroring Pintos's dir_create/filesys_create.
func (e *Engine) AllocateSector() (uint32, bool) {
	return e.alloc.Allocate(1)
}

// Create zero-initializes a disk-inode image at sector, allocates
// ceil(length/512) data sectors (direct -> indirect -> double-indirect,
// rolling back everything reserved in this call on any failure), and
// writes the inode image to its home sector. Data sectors and index
// blocks bypass the buffer cache (spec §4.4); the inode image is written
// to the device and also installed in the cache, because Open reads it
// back through the cache, where a read-ahead may already hold the
// sector's old contents.
func (e *Engine) Create(sector uint32, length uint32, isDir bool) error {
	disk := Disk{Magic: Magic, IsDir: isDir}
	needed := (length + blockdev.SectorSize - 1) / blockdev.SectorSize
	if err := growTo(e.dev, e.alloc, &disk, needed); err != nil {
		return err
	}
	disk.Length = length
	if err := e.dev.Write(sector, disk.encode()); err != nil {
		deallocateAll(e.dev, e.alloc, &disk)
		return err
	}
	if err := e.cache.WriteThrough(sector, disk.encode(), blockdev.SectorSize, 0); err != nil {
		deallocateAll(e.dev, e.alloc, &disk)
		return err
	}
	return nil
}

// DestroyUnlinked releases a sector created by Create but never linked
// into any directory (e.g. because Add subsequently failed). It must not
// be called on a sector that is, or ever was, reachable through Open.
func (e *Engine) DestroyUnlinked(sector uint32) error {
	buf := make([]byte, blockdev.SectorSize)
	if err := e.dev.Read(sector, buf); err != nil {
		return err
	}
	disk, err := decodeDisk(buf)
	if err != nil {
		return err
	}
	deallocateAll(e.dev, e.alloc, &disk)
	e.alloc.Release(sector, 1)
	return nil
}

// Open deduplicates against the process-wide open-inode table; a reopen
// increments the reference count instead of allocating a new handle.
func (e *Engine) Open(sector uint32) (*Inode, error) {
	e.tableMu.Lock()
	if ino, ok := e.open[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		e.tableMu.Unlock()
		return ino, nil
	}
	e.tableMu.Unlock()

	buf := make([]byte, blockdev.SectorSize)
	if err := e.cache.ReadThrough(sector, buf, blockdev.SectorSize, 0); err != nil {
		return nil, err
	}
	disk, err := decodeDisk(buf)
	if err != nil {
		return nil, err
	}

	ino := &Inode{
		sector:         sector,
		openCount:      1,
		readableLength: disk.Length,
		disk:           disk,
	}

	e.tableMu.Lock()
	if existing, ok := e.open[sector]; ok {
		// Lost the race against a concurrent Open; use the winner.
		existing.mu.Lock()
		existing.openCount++
		existing.mu.Unlock()
		e.tableMu.Unlock()
		return existing, nil
	}
	e.open[sector] = ino
	e.tableMu.Unlock()
	return ino, nil
}

// MarkDeleted flags ino for deallocation once its last reference closes.
func (ino *Inode) MarkDeleted() {
	ino.mu.Lock()
	ino.deleted = true
	ino.mu.Unlock()
}

// Close decrements ino's reference count; on the last close, if the inode
// was marked deleted, its data sectors and the inode sector itself are
// released.
func (e *Engine) Close(ino *Inode) {
	ino.mu.Lock()
	ino.openCount--
	last := ino.openCount == 0
	deleted := ino.deleted
	disk := ino.disk
	sector := ino.sector
	ino.mu.Unlock()

	if !last {
		return
	}

	e.tableMu.Lock()
	delete(e.open, sector)
	e.tableMu.Unlock()

	if deleted {
		deallocateAll(e.dev, e.alloc, &disk)
		e.alloc.Release(sector, 1)
	}
}

// Deny increments the write-deny counter. Invariant 0 <= deny <= openCount
// is enforced by assertion (panics on violation — a programming error in
// the caller, not a user-triggerable condition).
func (ino *Inode) Deny() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyCount++
	if ino.denyCount > ino.openCount {
		panic(fmt.Sprintf("inode: deny count %d exceeds open count %d", ino.denyCount, ino.openCount))
	}
}

// Allow decrements the write-deny counter.
func (ino *Inode) Allow() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyCount <= 0 {
		panic("inode: allow() with no outstanding deny")
	}
	ino.denyCount--
}

// Read copies up to size bytes starting at offset into out, clipped by
// min(length, readableLength). A read past end returns 0.
func (e *Engine) Read(ino *Inode, out []byte, size int, offset uint32) (int, error) {
	ino.mu.Lock()
	limit := ino.disk.Length
	if ino.readableLength < limit {
		limit = ino.readableLength
	}
	disk := ino.disk
	ino.mu.Unlock()

	if offset >= limit {
		return 0, nil
	}
	if uint32(size) > limit-offset {
		size = int(limit - offset)
	}

	read := 0
	for read < size {
		pos := offset + uint32(read)
		sectorIdx := pos / blockdev.SectorSize
		sectorOff := int(pos % blockdev.SectorSize)
		chunk := blockdev.SectorSize - sectorOff
		if chunk > size-read {
			chunk = size - read
		}

		dataSector, err := sectorForOffset(e.cache, &disk, sectorIdx*blockdev.SectorSize)
		if err != nil {
			return read, err
		}
		if err := e.cache.ReadThrough(dataSector, out[read:read+chunk], chunk, sectorOff); err != nil {
			return read, err
		}
		read += chunk
	}
	return read, nil
}

// Write returns 0 immediately if writes are denied. If the write extends
// past length, the inode is grown atomically under the engine's global
// growth lock before any data is written; readableLength is advanced to
// the new length only after the data write completes.
func (e *Engine) Write(ino *Inode, in []byte, size int, offset uint32) (int, error) {
	ino.mu.Lock()
	if ino.denyCount > 0 {
		ino.mu.Unlock()
		return 0, nil
	}
	needLength := offset + uint32(size)
	growing := needLength > ino.disk.Length
	ino.mu.Unlock()

	if growing {
		e.growthMu.Lock()
		ino.mu.Lock()
		// Re-check: another writer may have grown past our target while we
		// waited for the lock.
		if needLength > ino.disk.Length {
			disk := ino.disk
			needed := (needLength + blockdev.SectorSize - 1) / blockdev.SectorSize
			if err := growTo(e.dev, e.alloc, &disk, needed); err != nil {
				ino.mu.Unlock()
				e.growthMu.Unlock()
				return 0, err
			}
			disk.Length = needLength
			if err := e.dev.Write(ino.sector, disk.encode()); err != nil {
				ino.mu.Unlock()
				e.growthMu.Unlock()
				return 0, err
			}
			ino.disk = disk
		}
		ino.mu.Unlock()
		e.growthMu.Unlock()
	}

	ino.mu.Lock()
	disk := ino.disk
	if growing {
		// Open reads inode sectors through the cache, so the grown image
		// is installed there as well; otherwise a reopen after the last
		// Close would see the old length.
		if err := e.cache.WriteThrough(ino.sector, disk.encode(), blockdev.SectorSize, 0); err != nil {
			ino.mu.Unlock()
			return 0, err
		}
	}
	ino.mu.Unlock()

	written := 0
	for written < size {
		pos := offset + uint32(written)
		sectorIdx := pos / blockdev.SectorSize
		sectorOff := int(pos % blockdev.SectorSize)
		chunk := blockdev.SectorSize - sectorOff
		if chunk > size-written {
			chunk = size - written
		}

		dataSector, err := sectorForOffset(e.cache, &disk, sectorIdx*blockdev.SectorSize)
		if err != nil {
			return written, err
		}
		if err := e.cache.WriteThrough(dataSector, in[written:written+chunk], chunk, sectorOff); err != nil {
			return written, err
		}
		written += chunk
	}

	if growing {
		ino.mu.Lock()
		if ino.readableLength < needLength {
			ino.readableLength = needLength
		}
		ino.mu.Unlock()
	}
	return written, nil
}
