package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatThenOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	dev, err := Format(path, 64)
	require.NoError(t, err)
	require.Equal(t, uint32(64), dev.Size())
	require.NoError(t, dev.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint32(64), reopened.Size())
}

func TestWriteReadSector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := Format(path, 4)
	require.NoError(t, err)
	defer dev.Close()

	want := make([]byte, SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, dev.Write(2, want))

	got := make([]byte, SectorSize)
	require.NoError(t, dev.Read(2, got))
	require.Equal(t, want, got)

	other := make([]byte, SectorSize)
	require.NoError(t, dev.Read(0, other))
	for _, b := range other {
		require.Equal(t, byte(0), b)
	}
}

func TestReadWriteRejectsWrongSizeBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := Format(path, 2)
	require.NoError(t, err)
	defer dev.Close()

	require.Error(t, dev.Read(0, make([]byte, SectorSize-1)))
	require.Error(t, dev.Write(0, make([]byte, SectorSize+1)))
}

func TestOutOfRangeSectorRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := Format(path, 2)
	require.NoError(t, err)
	defer dev.Close()

	require.Error(t, dev.Read(2, make([]byte, SectorSize)))
	require.Error(t, dev.Write(99, make([]byte, SectorSize)))
}

func TestOpenRejectsNonMultipleOfSectorSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, SectorSize+1), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}
