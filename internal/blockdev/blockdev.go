// Package blockdev implements the sector-addressed block device facade (C1).
//
// It is the lowest layer of the persistent file system stack: a single
// backing file, read and written in fixed 512-byte sectors. Everything
// above this package (the free-sector allocator, the buffer cache, the
// inode engine) treats a Device as the raw disk.
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the device's indivisible transfer unit.
const SectorSize = 512

// Device is a sector-addressed, synchronous, blocking facade over a single
// backing file. Reads and writes are atomic at sector granularity: a
// concurrent reader observes either the pre- or post-image of a single
// 512-byte write, never a torn mix of both.
type Device struct {
	mu   sync.RWMutex
	f    *os.File
	path string
	// sectors is the device capacity in whole sectors; fixed at Open/Format
	// time. The spec's non-goals exclude device resize.
	sectors uint32
}

// Open opens an existing backing file. The file size must be a whole
// multiple of SectorSize.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %q: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %q: %w", path, err)
	}
	if fi.Size()%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("blockdev: %q size %d is not a multiple of %d", path, fi.Size(), SectorSize)
	}
	return &Device{f: f, path: path, sectors: uint32(fi.Size() / SectorSize)}, nil
}

// Format creates (or truncates) a zero-filled backing file of the given
// sector count and returns a Device open on it. Used by the `mkfs` entry
// point; not part of the syscall surface.
func Format(path string, sectors uint32) (*Device, error) {
	tmp, err := os.CreateTemp(dirOf(path), ".persistentfs-*")
	if err != nil {
		return nil, fmt.Errorf("blockdev: format %q: %w", path, err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Truncate(int64(sectors) * SectorSize); err != nil {
		return nil, fmt.Errorf("blockdev: truncate %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("blockdev: sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("blockdev: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("blockdev: rename %q -> %q: %w", tmpName, path, err)
	}
	ok = true

	return Open(path)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Size returns the device capacity in sectors.
func (d *Device) Size() uint32 {
	return d.sectors
}

// Read copies exactly SectorSize bytes from sector into buf.
func (d *Device) Read(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: read buf must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.sectors {
		return fmt.Errorf("blockdev: sector %d out of range (capacity %d)", sector, d.sectors)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}
	return nil
}

// Write writes exactly SectorSize bytes from buf to sector.
func (d *Device) Write(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: write buf must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.sectors {
		return fmt.Errorf("blockdev: sector %d out of range (capacity %d)", sector, d.sectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, err)
	}
	return nil
}

// Close syncs and releases the backing file.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		return err
	}
	return d.f.Close()
}

// Path returns the backing file path, for diagnostics/metrics only.
func (d *Device) Path() string { return d.path }
