package inode

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/freemap"
)

// newTestEngine formats a device of the given number of sectors and
// returns a ready Engine along with a sector reserved for a fresh inode.
func newTestEngine(t *testing.T, sectors uint32) (*Engine, uint32) {
	t.Helper()
	dev, err := blockdev.Format(filepath.Join(t.TempDir(), "disk.img"), sectors)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	alloc, err := freemap.Format(dev)
	require.NoError(t, err)

	cache := buffercache.New(dev)
	t.Cleanup(func() { cache.Close() })

	eng := NewEngine(dev, cache, alloc)
	sector, ok := eng.AllocateSector()
	require.True(t, ok)
	return eng, sector
}

func TestCreateOpenReadWriteRoundTrip(t *testing.T) {
	eng, sector := newTestEngine(t, 64)
	require.NoError(t, eng.Create(sector, 0, false))

	ino, err := eng.Open(sector)
	require.NoError(t, err)
	defer eng.Close(ino)

	data := []byte("hello, file system")
	n, err := eng.Write(ino, data, len(data), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	out := make([]byte, len(data))
	n, err = eng.Read(ino, out, len(data), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, out)
}

func TestOpenDeduplicatesBySector(t *testing.T) {
	eng, sector := newTestEngine(t, 64)
	require.NoError(t, eng.Create(sector, 0, false))

	a, err := eng.Open(sector)
	require.NoError(t, err)
	b, err := eng.Open(sector)
	require.NoError(t, err)
	require.Same(t, a, b)

	eng.Close(a)
	eng.Close(b)
}

func TestDenyAllowGatesWrites(t *testing.T) {
	eng, sector := newTestEngine(t, 64)
	require.NoError(t, eng.Create(sector, 0, false))

	ino, err := eng.Open(sector)
	require.NoError(t, err)
	defer eng.Close(ino)

	ino.Deny()
	n, err := eng.Write(ino, []byte("denied"), 6, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	ino.Allow()
	n, err = eng.Write(ino, []byte("allowed"), 7, 0)
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestDenyBeyondOpenCountPanics(t *testing.T) {
	eng, sector := newTestEngine(t, 64)
	require.NoError(t, eng.Create(sector, 0, false))

	ino, err := eng.Open(sector)
	require.NoError(t, err)
	defer eng.Close(ino)

	ino.Deny()
	require.Panics(t, func() { ino.Deny() })
}

func TestReadableLengthAdvancesAfterGrowingWrite(t *testing.T) {
	eng, sector := newTestEngine(t, 64)
	require.NoError(t, eng.Create(sector, 0, false))

	ino, err := eng.Open(sector)
	require.NoError(t, err)
	defer eng.Close(ino)

	// Before any write, the file is zero-length: a read anywhere returns 0.
	out := make([]byte, 16)
	n, err := eng.Read(ino, out, 16, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	n, err = eng.Write(ino, data, len(data), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, uint32(len(data)), ino.Stat().Length)

	got := make([]byte, len(data))
	n, err = eng.Read(ino, got, len(data), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
}

func TestWriteAcrossIndirectBoundary(t *testing.T) {
	// 12 direct sectors * 512 bytes = 6144; push 20 whole sectors and a
	// partial one past that, into the first indirect index block.
	eng, sector := newTestEngine(t, 600)
	require.NoError(t, eng.Create(sector, 0, false))

	ino, err := eng.Open(sector)
	require.NoError(t, err)
	defer eng.Close(ino)

	size := (MaxDirectSectors+20)*blockdev.SectorSize + 37
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	n, err := eng.Write(ino, data, len(data), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = eng.Read(ino, got, len(data), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
}

func TestCloseOnDeletedInodeReleasesSectors(t *testing.T) {
	eng, sector := newTestEngine(t, 64)
	before := eng.alloc.FreeSectors()
	require.NoError(t, eng.Create(sector, 100, false))

	ino, err := eng.Open(sector)
	require.NoError(t, err)

	ino.MarkDeleted()
	eng.Close(ino)

	// Both the data sector Create allocated and the inode's own home
	// sector are back in the free pool.
	require.Equal(t, before+1, eng.alloc.FreeSectors())
	_, ok := eng.AllocateSector()
	require.True(t, ok)
}
