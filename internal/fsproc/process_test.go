package fsproc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/freemap"
	"github.com/wicos64/persistentfs/internal/inode"
)

func newTestProcess(t *testing.T) (*Process, *inode.Engine) {
	t.Helper()
	dev, err := blockdev.Format(filepath.Join(t.TempDir(), "disk.img"), 256)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	alloc, err := freemap.Format(dev)
	require.NoError(t, err)

	cache := buffercache.New(dev)
	t.Cleanup(func() { cache.Close() })

	eng := inode.NewEngine(dev, cache, alloc)
	require.NoError(t, eng.Create(freemap.RootDirSector, 0, true))

	fs := &directory.FS{Eng: eng, RootSector: freemap.RootDirSector}
	root, err := eng.Open(freemap.RootDirSector)
	require.NoError(t, err)
	require.NoError(t, directory.InitSelfEntries(eng, root, freemap.RootDirSector, freemap.RootDirSector))

	return New(1, fs, root), eng
}

func TestFirstAllocatedFDIsThree(t *testing.T) {
	p, eng := newTestProcess(t)
	require.NoError(t, p.Create("a.txt", 0))
	fd, err := p.Open("a.txt")
	require.NoError(t, err)
	require.Equal(t, firstFD, fd)
	require.NoError(t, p.Close(eng, fd))
}

func TestFDsNeverRecycled(t *testing.T) {
	p, eng := newTestProcess(t)
	require.NoError(t, p.Create("a.txt", 0))

	fd1, err := p.Open("a.txt")
	require.NoError(t, err)
	require.NoError(t, p.Close(eng, fd1))

	fd2, err := p.Open("a.txt")
	require.NoError(t, err)
	require.Greater(t, fd2, fd1)
	require.NoError(t, p.Close(eng, fd2))
}

func TestWriteSeekReadRoundTrip(t *testing.T) {
	p, eng := newTestProcess(t)
	require.NoError(t, p.Create("a.txt", 0))
	fd, err := p.Open("a.txt")
	require.NoError(t, err)
	defer p.Close(eng, fd)

	data := []byte("abcdefgh")
	n, err := p.Write(eng, fd, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	require.NoError(t, p.Seek(fd, 2))
	pos, err := p.Tell(fd)
	require.NoError(t, err)
	require.Equal(t, uint32(2), pos)

	buf := make([]byte, 4)
	n, err = p.Read(eng, fd, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("cdef"), buf)
}

func TestReadWriteOnDirectoryFDRejected(t *testing.T) {
	p, eng := newTestProcess(t)
	require.NoError(t, p.Mkdir("sub"))
	fd, err := p.Open("sub")
	require.NoError(t, err)
	defer p.Close(eng, fd)

	isDir, err := p.Isdir(fd)
	require.NoError(t, err)
	require.True(t, isDir)

	_, err = p.Read(eng, fd, make([]byte, 8))
	require.ErrorIs(t, err, directory.ErrIsDir)

	_, err = p.Write(eng, fd, []byte("x"))
	require.ErrorIs(t, err, directory.ErrIsDir)
}

func TestCloseUnknownFDReturnsErrBadFD(t *testing.T) {
	p, eng := newTestProcess(t)
	err := p.Close(eng, 999)
	require.ErrorIs(t, err, ErrBadFD)
}

func TestInumberIsStableAcrossOpens(t *testing.T) {
	p, eng := newTestProcess(t)
	require.NoError(t, p.Create("a.txt", 0))

	fd1, err := p.Open("a.txt")
	require.NoError(t, err)
	n1, err := p.Inumber(fd1)
	require.NoError(t, err)
	require.NoError(t, p.Close(eng, fd1))

	fd2, err := p.Open("a.txt")
	require.NoError(t, err)
	n2, err := p.Inumber(fd2)
	require.NoError(t, err)
	require.NoError(t, p.Close(eng, fd2))

	require.Equal(t, n1, n2)
}

func TestReaddirEnumeratesCreatedEntries(t *testing.T) {
	p, eng := newTestProcess(t)
	require.NoError(t, p.Create("one", 0))
	require.NoError(t, p.Create("two", 0))

	fd, err := p.Open(".")
	require.NoError(t, err)
	defer p.Close(eng, fd)

	seen := map[string]bool{}
	for {
		name, ok, err := p.Readdir(eng, fd)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[name] = true
	}
	require.True(t, seen["one"])
	require.True(t, seen["two"])
}
