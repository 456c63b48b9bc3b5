package fsserver

import (
	"errors"

	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/fsproc"
	"github.com/wicos64/persistentfs/internal/inode"
	"github.com/wicos64/persistentfs/internal/wireproto"
)

const pidNone uint32 = 0xFFFFFFFF
const fdNone uint32 = 0xFFFFFFFF

func (s *Server) dispatch(op byte, payload []byte) (status byte, resp []byte) {
	d := wireproto.NewDecoder(payload)

	switch op {
	case wireproto.OpHalt:
		return s.opHalt(d)
	case wireproto.OpExec:
		return s.opExec(d)
	case wireproto.OpWait:
		return s.opWait(d)
	case wireproto.OpExit:
		return s.opExit(d)
	case wireproto.OpCreate:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			path, err := d.ReadString(wireproto.MaxPath)
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			size, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			return statusFor(op, p.Create(path, size)), nil
		})
	case wireproto.OpRemove:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			path, err := d.ReadString(wireproto.MaxPath)
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			return statusFor(op, p.Remove(path)), nil
		})
	case wireproto.OpMkdir:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			path, err := d.ReadString(wireproto.MaxPath)
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			return statusFor(op, p.Mkdir(path)), nil
		})
	case wireproto.OpOpen:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			path, err := d.ReadString(wireproto.MaxPath)
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			fd, err := p.Open(path)
			if err != nil {
				return statusFor(op, err), nil
			}
			e := wireproto.NewEncoder(4)
			e.WriteU32(uint32(fd))
			return wireproto.StatusOK, e.Bytes()
		})
	case wireproto.OpFilesize:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			size, err := p.Filesize(int(fd))
			if err != nil {
				return s.statusTerminating(op, p, err), nil
			}
			e := wireproto.NewEncoder(4)
			e.WriteU32(size)
			return wireproto.StatusOK, e.Bytes()
		})
	case wireproto.OpRead:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			length, err := d.ReadU16()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			buf := make([]byte, length)
			n, err := p.Read(s.eng, int(fd), buf)
			if n < 0 || err != nil {
				if err == nil {
					err = errors.New("fsproc: read rejected")
				}
				return s.statusTerminating(op, p, err), nil
			}
			return wireproto.StatusOK, buf[:n]
		})
	case wireproto.OpWrite:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			length, err := d.ReadU16()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			data, err := d.ReadBytes(int(length))
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			n, err := p.Write(s.eng, int(fd), data)
			if n < 0 || err != nil {
				if err == nil {
					err = errors.New("fsproc: write rejected")
				}
				return s.statusTerminating(op, p, err), nil
			}
			e := wireproto.NewEncoder(4)
			e.WriteU32(uint32(n))
			return wireproto.StatusOK, e.Bytes()
		})
	case wireproto.OpSeek:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			pos, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			return s.statusTerminating(op, p, p.Seek(int(fd), pos)), nil
		})
	case wireproto.OpTell:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			pos, err := p.Tell(int(fd))
			if err != nil {
				return s.statusTerminating(op, p, err), nil
			}
			e := wireproto.NewEncoder(4)
			e.WriteU32(pos)
			return wireproto.StatusOK, e.Bytes()
		})
	case wireproto.OpClose:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			return s.statusTerminating(op, p, p.Close(s.eng, int(fd))), nil
		})
	case wireproto.OpChdir:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			path, err := d.ReadString(wireproto.MaxPath)
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			return statusFor(op, p.Chdir(s.eng, path)), nil
		})
	case wireproto.OpReaddir:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			name, ok, err := p.Readdir(s.eng, int(fd))
			if err != nil {
				return s.statusTerminating(op, p, err), nil
			}
			e := wireproto.NewEncoder(2 + len(name))
			if ok {
				e.WriteU8(1)
			} else {
				e.WriteU8(0)
			}
			_ = e.WriteString(name)
			return wireproto.StatusOK, e.Bytes()
		})
	case wireproto.OpIsdir:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			isDir, err := p.Isdir(int(fd))
			if err != nil {
				return s.statusTerminating(op, p, err), nil
			}
			e := wireproto.NewEncoder(1)
			if isDir {
				e.WriteU8(1)
			} else {
				e.WriteU8(0)
			}
			return wireproto.StatusOK, e.Bytes()
		})
	case wireproto.OpInumber:
		return s.withProcess(op, d, func(p *fsproc.Process, d *wireproto.Decoder) (byte, []byte) {
			fd, err := d.ReadU32()
			if err != nil {
				return wireproto.StatusBadRequest, nil
			}
			sector, err := p.Inumber(int(fd))
			if err != nil {
				return s.statusTerminating(op, p, err), nil
			}
			e := wireproto.NewEncoder(4)
			e.WriteU32(sector)
			return wireproto.StatusOK, e.Bytes()
		})
	default:
		return wireproto.StatusBadRequest, nil
	}
}

// withProcess decodes the leading pid u32 every fd-bearing op carries,
// looks it up, and runs fn against it.
func (s *Server) withProcess(op byte, d *wireproto.Decoder, fn func(*fsproc.Process, *wireproto.Decoder) (byte, []byte)) (byte, []byte) {
	pid, err := d.ReadU32()
	if err != nil {
		return wireproto.StatusBadRequest, nil
	}
	s.procMu.Lock()
	p, ok := s.procs[int(pid)]
	s.procMu.Unlock()
	if !ok {
		return wireproto.StatusBadFD, nil
	}
	return fn(p, d)
}

// statusTerminating maps err to a status code and, for a bad-fd
// protocol violation, terminates the owning process (closes every fd,
// drops it from the table) — the reference's "close on invalid fd"
// rule, generalized to any fd-bearing syscall.
func (s *Server) statusTerminating(op byte, p *fsproc.Process, err error) byte {
	if err == nil {
		return wireproto.StatusOK
	}
	if errors.Is(err, fsproc.ErrBadFD) {
		s.terminate(p)
		return wireproto.StatusBadFD
	}
	return statusFor(op, err)
}

func (s *Server) terminate(p *fsproc.Process) {
	s.procMu.Lock()
	delete(s.procs, p.PID)
	s.procMu.Unlock()
	p.Exit(s.eng)
}

func statusFor(op byte, err error) byte {
	switch {
	case err == nil:
		return wireproto.StatusOK
	case errors.Is(err, inode.ErrCorrupt):
		corruptf(op, err)
		return wireproto.StatusCorrupt // unreached
	case errors.Is(err, inode.ErrNoSpace):
		return wireproto.StatusNoSpace
	case errors.Is(err, directory.ErrNotFound):
		return wireproto.StatusNotFound
	case errors.Is(err, directory.ErrNotDir):
		return wireproto.StatusNotADir
	case errors.Is(err, directory.ErrIsDir):
		return wireproto.StatusIsADir
	case errors.Is(err, directory.ErrAlreadyExists):
		return wireproto.StatusAlreadyExists
	case errors.Is(err, directory.ErrDirNotEmpty):
		return wireproto.StatusDirNotEmpty
	case errors.Is(err, directory.ErrInvalidPath):
		return wireproto.StatusInvalidPath
	case errors.Is(err, fsproc.ErrBadFD):
		return wireproto.StatusBadFD
	default:
		return wireproto.StatusInternal
	}
}

func (s *Server) opHalt(d *wireproto.Decoder) (byte, []byte) {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	return wireproto.StatusOK, nil
}

func (s *Server) opExec(d *wireproto.Decoder) (byte, []byte) {
	_, err := d.ReadString(wireproto.MaxPath) // command line; loading is out of scope
	if err != nil {
		return wireproto.StatusBadRequest, nil
	}

	root, err := s.fs.Root()
	if err != nil {
		return statusFor(wireproto.OpExec, err), nil
	}

	s.procMu.Lock()
	pid := s.nextPID
	s.nextPID++
	proc := fsproc.New(pid, s.fs, root)
	s.procs[pid] = proc
	s.procMu.Unlock()

	e := wireproto.NewEncoder(4)
	e.WriteU32(uint32(pid))
	return wireproto.StatusOK, e.Bytes()
}

func (s *Server) opWait(d *wireproto.Decoder) (byte, []byte) {
	pid, err := d.ReadU32()
	if err != nil {
		return wireproto.StatusBadRequest, nil
	}
	s.procMu.Lock()
	_, ok := s.procs[int(pid)]
	s.procMu.Unlock()

	e := wireproto.NewEncoder(4)
	if !ok {
		e.WriteU32(pidNone)
	} else {
		e.WriteU32(0)
	}
	return wireproto.StatusOK, e.Bytes()
}

func (s *Server) opExit(d *wireproto.Decoder) (byte, []byte) {
	pid, err := d.ReadU32()
	if err != nil {
		return wireproto.StatusBadRequest, nil
	}
	_, err = d.ReadU32() // exit status, informational only
	if err != nil {
		return wireproto.StatusBadRequest, nil
	}

	s.procMu.Lock()
	p, ok := s.procs[int(pid)]
	delete(s.procs, int(pid))
	s.procMu.Unlock()
	if !ok {
		return wireproto.StatusBadFD, nil
	}
	p.Exit(s.eng)
	return wireproto.StatusOK, nil
}
