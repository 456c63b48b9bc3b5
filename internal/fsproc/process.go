// Package fsproc implements the file-descriptor layer (C6): a Process
// groups a current working directory with an fd table and implements the
// fd-level syscalls (create/remove/open/filesize/read/write/seek/tell/
// close/chdir/mkdir/readdir/isdir/inumber) on top of internal/directory
// and internal/inode.
//
// Grounded on Pintos's userprog/syscall.c and userprog/process.c fd
// handling: ids start at 3 and are never recycled, 0/1/2 are reserved,
// a directory fd rejects read/write, and closing an invalid fd is a
// protocol violation.
package fsproc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/inode"
)

// ErrBadFD signals a close or operation against an fd the process never
// opened. The caller (fsserver) treats this as a protocol violation and
// terminates the process, mirroring the reference's handling of a bad
// fd passed from user space.
var ErrBadFD = errors.New("fsproc: invalid file descriptor")

// firstFD is the lowest id ever handed out. 0, 1 and 2 are reserved for
// stdin/stdout/stderr-equivalent slots that this layer never allocates
// into, matching the reference's fd numbering.
const firstFD = 3

type fdKind int

const (
	fdFile fdKind = iota
	fdDir
)

type fdEntry struct {
	kind   fdKind
	ino    *inode.Inode
	pos    uint32
	dirCur directory.Cursor
}

// Process is one client's open-file session: a CWD plus an fd table.
// Fd ids are monotonic for the lifetime of the Process and are never
// reused, even across close/open of the same name.
type Process struct {
	PID int

	fs *directory.FS

	mu     sync.Mutex
	cwd    *inode.Inode
	fds    map[int]*fdEntry
	nextFD int

	// execDeny is non-nil while this process holds a deny-write lock on
	// the executable that spawned it (the exec/deny-write pairing from
	// the reference, carried here even though loading itself is out of
	// scope — see fsserver's process table).
	execDeny *inode.Inode
}

// New starts a process rooted at root with its CWD set to root.
func New(pid int, fs *directory.FS, root *inode.Inode) *Process {
	return &Process{
		PID:    pid,
		fs:     fs,
		cwd:    root,
		fds:    make(map[int]*fdEntry),
		nextFD: firstFD,
	}
}

// SetExecDeny records the executable inode this process was spawned
// from, already Deny()'d by the caller.
func (p *Process) SetExecDeny(exe *inode.Inode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execDeny = exe
}

// Exit closes every open fd and releases the CWD and exec-deny
// references. Called once, when the owning connection/process ends.
func (p *Process) Exit(eng *inode.Engine) {
	p.mu.Lock()
	fds := p.fds
	p.fds = make(map[int]*fdEntry)
	cwd := p.cwd
	p.cwd = nil
	exe := p.execDeny
	p.execDeny = nil
	p.mu.Unlock()

	for _, e := range fds {
		eng.Close(e.ino)
	}
	if cwd != nil {
		eng.Close(cwd)
	}
	if exe != nil {
		exe.Allow()
		eng.Close(exe)
	}
}

func (p *Process) allocFD() int {
	id := p.nextFD
	p.nextFD++
	return id
}

// Create implements the create syscall: make an empty file of size
// bytes at path, resolved relative to the process's CWD.
func (p *Process) Create(path string, size uint32) error {
	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()
	return p.fs.CreateFile(cwd, path, size)
}

// Remove implements the remove syscall.
func (p *Process) Remove(path string) error {
	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()
	return p.fs.Remove(cwd, path)
}

// Mkdir implements the mkdir syscall.
func (p *Process) Mkdir(path string) error {
	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()
	return p.fs.Mkdir(cwd, path)
}

// Open implements the open syscall, returning the new fd id. Opening a
// directory is permitted; only read/write reject it afterward.
func (p *Process) Open(path string) (int, error) {
	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()

	ino, err := p.fs.OpenInode(cwd, path)
	if err != nil {
		return -1, err
	}

	kind := fdFile
	if ino.Stat().IsDir {
		kind = fdDir
	}

	p.mu.Lock()
	id := p.allocFD()
	p.fds[id] = &fdEntry{kind: kind, ino: ino}
	p.mu.Unlock()
	return id, nil
}

func (p *Process) lookup(fd int) (*fdEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.fds[fd]
	if !ok {
		return nil, ErrBadFD
	}
	return e, nil
}

// Filesize implements the filesize syscall.
func (p *Process) Filesize(fd int) (uint32, error) {
	e, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	return e.ino.Stat().Length, nil
}

// Read implements the read syscall. Reading from a directory fd always
// returns -1 (reported to the caller as ErrIsDir), matching the
// reference's fd-kind check ahead of the data path.
func (p *Process) Read(eng *inode.Engine, fd int, buf []byte) (int, error) {
	e, err := p.lookup(fd)
	if err != nil {
		return -1, err
	}
	if e.kind == fdDir {
		return -1, directory.ErrIsDir
	}

	p.mu.Lock()
	pos := e.pos
	p.mu.Unlock()

	n, err := eng.Read(e.ino, buf, len(buf), pos)
	if err != nil {
		return -1, err
	}

	p.mu.Lock()
	e.pos += uint32(n)
	p.mu.Unlock()
	return n, nil
}

// Write implements the write syscall. Writing to a directory fd always
// returns -1.
func (p *Process) Write(eng *inode.Engine, fd int, data []byte) (int, error) {
	e, err := p.lookup(fd)
	if err != nil {
		return -1, err
	}
	if e.kind == fdDir {
		return -1, directory.ErrIsDir
	}

	p.mu.Lock()
	pos := e.pos
	p.mu.Unlock()

	n, err := eng.Write(e.ino, data, len(data), pos)
	if err != nil {
		return -1, err
	}

	p.mu.Lock()
	e.pos += uint32(n)
	p.mu.Unlock()
	return n, nil
}

// Seek implements the seek syscall. Seeking past end-of-file is legal;
// a subsequent read there simply returns 0 (inode.Engine.Read's job).
func (p *Process) Seek(fd int, pos uint32) error {
	e, err := p.lookup(fd)
	if err != nil {
		return err
	}
	p.mu.Lock()
	e.pos = pos
	p.mu.Unlock()
	return nil
}

// Tell implements the tell syscall.
func (p *Process) Tell(fd int) (uint32, error) {
	e, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.pos, nil
}

// Close implements the close syscall. Closing an fd the process never
// opened is a protocol violation the caller must treat as fatal to the
// connection, mirroring the reference's "terminate on bad fd" policy.
func (p *Process) Close(eng *inode.Engine, fd int) error {
	p.mu.Lock()
	e, ok := p.fds[fd]
	if ok {
		delete(p.fds, fd)
	}
	p.mu.Unlock()
	if !ok {
		return ErrBadFD
	}
	eng.Close(e.ino)
	return nil
}

// Chdir implements the chdir syscall, replacing the process's CWD.
func (p *Process) Chdir(eng *inode.Engine, path string) error {
	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()

	next, err := p.fs.Chdir(cwd, path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.cwd = next
	p.mu.Unlock()
	eng.Close(cwd)
	return nil
}

// Readdir implements the readdir syscall: fd must name an open
// directory; each call returns the next entry name, excluding "." and
// "..", or ok=false once exhausted.
func (p *Process) Readdir(eng *inode.Engine, fd int) (name string, ok bool, err error) {
	e, err := p.lookup(fd)
	if err != nil {
		return "", false, err
	}
	if e.kind != fdDir {
		return "", false, fmt.Errorf("fsproc: fd %d is not a directory", fd)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return directory.Readdir(eng, e.ino, &e.dirCur)
}

// Isdir implements the isdir syscall.
func (p *Process) Isdir(fd int) (bool, error) {
	e, err := p.lookup(fd)
	if err != nil {
		return false, err
	}
	return e.kind == fdDir, nil
}

// Inumber implements the inumber syscall: the inode's home sector
// serves as its stable numeric identity.
func (p *Process) Inumber(fd int) (uint32, error) {
	e, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	return e.ino.Sector(), nil
}
