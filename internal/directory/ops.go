package directory

import (
	"github.com/wicos64/persistentfs/internal/inode"
)

// FS ties the directory layer to a concrete inode engine and root sector.
// Passed explicitly (spec §9 design note: "pass an explicit FileSystem
// handle into operations rather than using ambient state").
type FS struct {
	Eng        *inode.Engine
	RootSector uint32
}

func (fs *FS) openDir(sector uint32) (*inode.Inode, error) {
	ino, err := fs.Eng.Open(sector)
	if err != nil {
		return nil, err
	}
	if !ino.Stat().IsDir {
		fs.Eng.Close(ino)
		return nil, ErrNotDir
	}
	return ino, nil
}

// Resolve implements spec §4.5's resolve(path) -> (parent_dir,
// last_segment). The returned *inode.Inode is always a fresh reference
// the caller must Close, even when no directory segments were actually
// traversed (path was a single bare name).
func (fs *FS) Resolve(cwd *inode.Inode, path string) (parent *inode.Inode, last string, err error) {
	if path == "" {
		return nil, "", ErrInvalidPath
	}
	absolute, segs := segments(path)

	var cur *inode.Inode
	if absolute {
		cur, err = fs.openDir(fs.RootSector)
		if err != nil {
			return nil, "", err
		}
	} else {
		cur, err = fs.Eng.Open(cwd.Sector())
		if err != nil {
			return nil, "", err
		}
	}

	for i := 0; i < len(segs)-1; i++ {
		seg := segs[i]
		switch seg {
		case "", ".":
			continue
		case "..":
			parentSector, ok, lerr := Lookup(fs.Eng, cur, "..")
			if lerr != nil {
				fs.Eng.Close(cur)
				return nil, "", lerr
			}
			if !ok {
				fs.Eng.Close(cur)
				return nil, "", ErrNotFound
			}
			next, oerr := fs.openDir(parentSector)
			fs.Eng.Close(cur)
			if oerr != nil {
				return nil, "", oerr
			}
			cur = next
		default:
			childSector, ok, lerr := Lookup(fs.Eng, cur, seg)
			if lerr != nil {
				fs.Eng.Close(cur)
				return nil, "", lerr
			}
			if !ok {
				fs.Eng.Close(cur)
				return nil, "", ErrNotFound
			}
			next, oerr := fs.openDir(childSector)
			fs.Eng.Close(cur)
			if oerr != nil {
				return nil, "", oerr
			}
			cur = next
		}
	}

	return cur, segs[len(segs)-1], nil
}

// resolveToInode resolves path to the inode it names (not its parent),
// handling the pseudo-names "", "." and "..".
func (fs *FS) resolveToInode(cwd *inode.Inode, path string) (*inode.Inode, error) {
	parent, last, err := fs.Resolve(cwd, path)
	if err != nil {
		return nil, err
	}
	defer fs.Eng.Close(parent)

	switch last {
	case "", ".":
		return fs.Eng.Open(parent.Sector())
	case "..":
		parentSector, ok, err := Lookup(fs.Eng, parent, "..")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return fs.Eng.Open(parentSector)
	default:
		sector, ok, err := Lookup(fs.Eng, parent, last)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return fs.Eng.Open(sector)
	}
}

// OpenInode resolves path and opens the inode it names.
func (fs *FS) OpenInode(cwd *inode.Inode, path string) (*inode.Inode, error) {
	return fs.resolveToInode(cwd, path)
}

// CreateFile creates an empty (or size-preallocated) regular file at path.
func (fs *FS) CreateFile(cwd *inode.Inode, path string, size uint32) error {
	return fs.create(cwd, path, size, false)
}

// CreateDir creates a directory at path, wiring its "." and ".." entries.
func (fs *FS) CreateDir(cwd *inode.Inode, path string, size uint32) error {
	return fs.create(cwd, path, size, true)
}

// Mkdir is create_dir with no preallocated size — the mkdir syscall.
func (fs *FS) Mkdir(cwd *inode.Inode, path string) error {
	return fs.CreateDir(cwd, path, 0)
}

func (fs *FS) create(cwd *inode.Inode, path string, size uint32, isDir bool) error {
	parent, name, err := fs.Resolve(cwd, path)
	if err != nil {
		return err
	}
	defer fs.Eng.Close(parent)

	if err := ValidateName(name); err != nil {
		return ErrInvalidPath
	}
	if _, ok, _ := Lookup(fs.Eng, parent, name); ok {
		return ErrAlreadyExists
	}

	sector, ok := fs.Eng.AllocateSector()
	if !ok {
		return inode.ErrNoSpace
	}
	if err := fs.Eng.Create(sector, size, isDir); err != nil {
		return err
	}

	if isDir {
		child, err := fs.Eng.Open(sector)
		if err != nil {
			_ = fs.Eng.DestroyUnlinked(sector)
			return err
		}
		if err := InitSelfEntries(fs.Eng, child, sector, parent.Sector()); err != nil {
			fs.Eng.Close(child)
			_ = fs.Eng.DestroyUnlinked(sector)
			return err
		}
		fs.Eng.Close(child)
	}

	if err := Add(fs.Eng, parent, name, sector); err != nil {
		_ = fs.Eng.DestroyUnlinked(sector)
		return ErrAlreadyExists
	}
	return nil
}

// Remove deletes the file or empty directory named by path. Removing the
// root, a non-existent name, ".." or a non-empty directory all fail.
func (fs *FS) Remove(cwd *inode.Inode, path string) error {
	parent, name, err := fs.Resolve(cwd, path)
	if err != nil {
		return err
	}
	defer fs.Eng.Close(parent)

	if name == "" || name == "." || name == ".." {
		return ErrInvalidPath
	}

	sector, ok, err := Lookup(fs.Eng, parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	child, err := fs.Eng.Open(sector)
	if err != nil {
		return err
	}

	if child.Stat().IsDir {
		empty, err := IsEmpty(fs.Eng, child)
		if err != nil {
			fs.Eng.Close(child)
			return err
		}
		if !empty {
			fs.Eng.Close(child)
			return ErrDirNotEmpty
		}
	}

	if err := Remove(fs.Eng, parent, name); err != nil {
		fs.Eng.Close(child)
		return err
	}
	child.MarkDeleted()
	fs.Eng.Close(child)
	return nil
}

// Chdir resolves path to a directory inode, returning a fresh open
// reference the caller installs as the new CWD (closing the old one).
func (fs *FS) Chdir(cwd *inode.Inode, path string) (*inode.Inode, error) {
	ino, err := fs.resolveToInode(cwd, path)
	if err != nil {
		return nil, err
	}
	if !ino.Stat().IsDir {
		fs.Eng.Close(ino)
		return nil, ErrNotDir
	}
	return ino, nil
}

// Root opens a fresh reference to the file system root directory.
func (fs *FS) Root() (*inode.Inode, error) {
	return fs.openDir(fs.RootSector)
}
