package fsserver

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/freemap"
	"github.com/wicos64/persistentfs/internal/inode"
	"github.com/wicos64/persistentfs/internal/wireproto"
)

func newTestServer(t *testing.T) *Server {
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
	eng.Close(root)

	return New(slog.Default(), eng, fs)
}

func execSession(t *testing.T, s *Server) uint32 {
	t.Helper()
	e := wireproto.NewEncoder(8)
	_ = e.WriteString("test")
	status, resp := s.dispatch(wireproto.OpExec, e.Bytes())
	require.Equal(t, wireproto.StatusOK, status)
	d := wireproto.NewDecoder(resp)
	pid, err := d.ReadU32()
	require.NoError(t, err)
	return pid
}

func TestDispatchCreateOpenWriteReadClose(t *testing.T) {
	s := newTestServer(t)
	pid := execSession(t, s)

	createPayload := wireproto.NewEncoder(8)
	createPayload.WriteU32(pid)
	_ = createPayload.WriteString("hello.txt")
	createPayload.WriteU32(0)
	status, _ := s.dispatch(wireproto.OpCreate, createPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)

	openPayload := wireproto.NewEncoder(8)
	openPayload.WriteU32(pid)
	_ = openPayload.WriteString("hello.txt")
	status, resp := s.dispatch(wireproto.OpOpen, openPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)
	fd, err := wireproto.NewDecoder(resp).ReadU32()
	require.NoError(t, err)

	data := []byte("ahoy")
	writePayload := wireproto.NewEncoder(10 + len(data))
	writePayload.WriteU32(pid)
	writePayload.WriteU32(fd)
	writePayload.WriteU16(uint16(len(data)))
	writePayload.WriteBytes(data)
	status, resp = s.dispatch(wireproto.OpWrite, writePayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)
	n, err := wireproto.NewDecoder(resp).ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(len(data)), n)

	seekPayload := wireproto.NewEncoder(8)
	seekPayload.WriteU32(pid)
	seekPayload.WriteU32(fd)
	seekPayload.WriteU32(0)
	status, _ = s.dispatch(wireproto.OpSeek, seekPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)

	readPayload := wireproto.NewEncoder(10)
	readPayload.WriteU32(pid)
	readPayload.WriteU32(fd)
	readPayload.WriteU16(uint16(len(data)))
	status, resp = s.dispatch(wireproto.OpRead, readPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)
	require.Equal(t, data, resp)

	closePayload := wireproto.NewEncoder(8)
	closePayload.WriteU32(pid)
	closePayload.WriteU32(fd)
	status, _ = s.dispatch(wireproto.OpClose, closePayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)
}

func TestDispatchBadFDTerminatesProcess(t *testing.T) {
	s := newTestServer(t)
	pid := execSession(t, s)

	closePayload := wireproto.NewEncoder(8)
	closePayload.WriteU32(pid)
	closePayload.WriteU32(999)
	status, _ := s.dispatch(wireproto.OpClose, closePayload.Bytes())
	require.Equal(t, wireproto.StatusBadFD, status)

	// The process was terminated as a side effect; a subsequent op
	// against the same pid must now fail as an unknown process.
	tellPayload := wireproto.NewEncoder(8)
	tellPayload.WriteU32(pid)
	tellPayload.WriteU32(3)
	status, _ = s.dispatch(wireproto.OpTell, tellPayload.Bytes())
	require.Equal(t, wireproto.StatusBadFD, status)
}

func TestDispatchUnknownPidIsBadFD(t *testing.T) {
	s := newTestServer(t)
	payload := wireproto.NewEncoder(8)
	payload.WriteU32(0xABCDEF)
	_ = payload.WriteString("x")
	status, _ := s.dispatch(wireproto.OpCreate, payload.Bytes())
	require.Equal(t, wireproto.StatusBadFD, status)
}

func TestDispatchMkdirThenRemoveNonEmptyFails(t *testing.T) {
	s := newTestServer(t)
	pid := execSession(t, s)

	mkdirPayload := wireproto.NewEncoder(8)
	mkdirPayload.WriteU32(pid)
	_ = mkdirPayload.WriteString("dir")
	status, _ := s.dispatch(wireproto.OpMkdir, mkdirPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)

	chdirPayload := wireproto.NewEncoder(8)
	chdirPayload.WriteU32(pid)
	_ = chdirPayload.WriteString("dir")
	status, _ = s.dispatch(wireproto.OpChdir, chdirPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)

	createPayload := wireproto.NewEncoder(8)
	createPayload.WriteU32(pid)
	_ = createPayload.WriteString("inner.txt")
	createPayload.WriteU32(0)
	status, _ = s.dispatch(wireproto.OpCreate, createPayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)

	removePayload := wireproto.NewEncoder(8)
	removePayload.WriteU32(pid)
	_ = removePayload.WriteString("..")
	status, _ = s.dispatch(wireproto.OpChdir, removePayload.Bytes())
	require.Equal(t, wireproto.StatusOK, status)

	rmDirPayload := wireproto.NewEncoder(8)
	rmDirPayload.WriteU32(pid)
	_ = rmDirPayload.WriteString("dir")
	status, _ = s.dispatch(wireproto.OpRemove, rmDirPayload.Bytes())
	require.Equal(t, wireproto.StatusDirNotEmpty, status)
}
