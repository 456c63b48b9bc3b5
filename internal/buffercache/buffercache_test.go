package buffercache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wicos64/persistentfs/internal/blockdev"
)

func newDevice(t *testing.T, sectors uint32) *blockdev.Device {
	t.Helper()
	dev, err := blockdev.Format(filepath.Join(t.TempDir(), "disk.img"), sectors)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestWriteThroughThenReadThroughRoundTrip(t *testing.T) {
	dev := newDevice(t, 8)
	c := New(dev)
	defer c.Close()

	want := []byte("hello, cache")
	require.NoError(t, c.WriteThrough(3, want, len(want), 0))

	got := make([]byte, len(want))
	require.NoError(t, c.ReadThrough(3, got, len(want), 0))
	require.Equal(t, want, got)
}

func TestDisjointWritesToSameSectorUnion(t *testing.T) {
	dev := newDevice(t, 4)
	c := New(dev)
	defer c.Close()

	first := []byte("AAAA")
	second := []byte("BBBB")
	require.NoError(t, c.WriteThrough(0, first, len(first), 0))
	require.NoError(t, c.WriteThrough(0, second, len(second), 100))

	got := make([]byte, 104)
	require.NoError(t, c.ReadThrough(0, got, 104, 0))
	require.Equal(t, first, got[0:4])
	require.Equal(t, second, got[100:104])
}

func TestFlushAllMakesDataVisibleBypassingCache(t *testing.T) {
	dev := newDevice(t, 4)
	c := New(dev)
	defer c.Close()

	want := []byte("on disk now")
	require.NoError(t, c.WriteThrough(1, want, len(want), 0))
	require.NoError(t, c.FlushAll())

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Read(1, raw))
	require.Equal(t, want, raw[:len(want)])
}

// TestEvictionAcrossSlotCapacity forces every one of the Capacity slots to
// be occupied and then touches one additional sector, requiring the clock
// algorithm to pick a victim and reuse a slot rather than silently
// overrunning capacity. Every one of those Capacity+1 sectors must still
// read back correctly afterward, since later writes are flushed to disk
// either by eviction (dirty victims) or the final FlushAll.
func TestEvictionAcrossSlotCapacity(t *testing.T) {
	dev := newDevice(t, Capacity+8)
	c := New(dev)
	defer c.Close()

	for sector := uint32(0); sector < Capacity+1; sector++ {
		data := []byte{byte(sector), byte(sector >> 8)}
		require.NoError(t, c.WriteThrough(sector, data, len(data), 0))
	}
	require.NoError(t, c.FlushAll())

	for sector := uint32(0); sector < Capacity+1; sector++ {
		got := make([]byte, 2)
		require.NoError(t, c.ReadThrough(sector, got, 2, 0))
		require.Equal(t, byte(sector), got[0])
		require.Equal(t, byte(sector>>8), got[1])
	}
}

func TestReadThroughRejectsOutOfRangeOffset(t *testing.T) {
	dev := newDevice(t, 2)
	c := New(dev)
	defer c.Close()

	buf := make([]byte, blockdev.SectorSize)
	require.Error(t, c.ReadThrough(0, buf, blockdev.SectorSize, 1))
}
