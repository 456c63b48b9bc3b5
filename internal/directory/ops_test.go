package directory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/freemap"
	"github.com/wicos64/persistentfs/internal/inode"
)

func newTestFS(t *testing.T) (*FS, *inode.Inode) {
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

	fs := &FS{Eng: eng, RootSector: freemap.RootDirSector}
	root, err := fs.Eng.Open(freemap.RootDirSector)
	require.NoError(t, err)
	require.NoError(t, InitSelfEntries(fs.Eng, root, freemap.RootDirSector, freemap.RootDirSector))

	return fs, root
}

func TestCreateFileThenOpenRoundTrip(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.CreateFile(root, "hello.txt", 0))

	ino, err := fs.OpenInode(root, "hello.txt")
	require.NoError(t, err)
	defer fs.Eng.Close(ino)
	require.False(t, ino.Stat().IsDir)
}

func TestMkdirCreatesDirectoryWithSelfEntries(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.Mkdir(root, "sub"))

	ino, err := fs.OpenInode(root, "sub")
	require.NoError(t, err)
	defer fs.Eng.Close(ino)
	require.True(t, ino.Stat().IsDir)

	dotdot, ok, err := Lookup(fs.Eng, ino, "..")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root.Sector(), dotdot)
}

func TestResolveNestedPathAndDotDot(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.Mkdir(root, "a"))
	dirA, err := fs.OpenInode(root, "a")
	require.NoError(t, err)
	defer fs.Eng.Close(dirA)

	require.NoError(t, fs.Mkdir(dirA, "b"))

	child, err := fs.OpenInode(root, "a/b")
	require.NoError(t, err)
	defer fs.Eng.Close(child)
	require.True(t, child.Stat().IsDir)

	back, err := fs.OpenInode(child, "..")
	require.NoError(t, err)
	defer fs.Eng.Close(back)
	require.Equal(t, dirA.Sector(), back.Sector())
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.CreateFile(root, "dup.txt", 0))
	err := fs.CreateFile(root, "dup.txt", 0)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.Mkdir(root, "sub"))
	dirSub, err := fs.OpenInode(root, "sub")
	require.NoError(t, err)
	defer fs.Eng.Close(dirSub)
	require.NoError(t, fs.CreateFile(dirSub, "f.txt", 0))

	err = fs.Remove(root, "sub")
	require.ErrorIs(t, err, ErrDirNotEmpty)
}

func TestRemoveEmptyDirectorySucceeds(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.Mkdir(root, "sub"))
	require.NoError(t, fs.Remove(root, "sub"))

	_, err := fs.OpenInode(root, "sub")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReaddirSetEqualsAddedNamesExcludingDotEntries(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	names := []string{"one", "two", "three"}
	for _, n := range names {
		require.NoError(t, fs.CreateFile(root, n, 0))
	}

	seen := map[string]bool{}
	var cur Cursor
	for {
		name, ok, err := Readdir(fs.Eng, root, &cur)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[name] = true
	}
	require.Len(t, seen, len(names))
	for _, n := range names {
		require.True(t, seen[n])
	}
	require.False(t, seen["."])
	require.False(t, seen[".."])
}

func TestChdirOnNonDirectoryFails(t *testing.T) {
	fs, root := newTestFS(t)
	defer fs.Eng.Close(root)

	require.NoError(t, fs.CreateFile(root, "file.txt", 0))
	_, err := fs.Chdir(root, "file.txt")
	require.ErrorIs(t, err, ErrNotDir)
}
