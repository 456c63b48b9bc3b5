// Package directory implements the hierarchical directory layer (C5):
// the packed directory-entry format, name lookup/add/remove/readdir, and
// multi-segment path resolution with "." / ".." and a process-local
// current working directory.
//
// Grounded on Pintos's filesys/directory.c for the entry format and
// lookup/add/remove mechanics, and on the teacher repository's
// pathutil.Normalize for the shape of a path-segment validator (rewritten
// here to permit "." and ".." rather than reject them, since this layer
// must resolve them instead of forbidding them).
package directory

import (
	"bytes"
	"fmt"

	"github.com/wicos64/persistentfs/internal/inode"
)

// EntrySize is the on-disk size of one directory entry (spec §6):
// 4-byte sector + 15-byte name (14 chars + NUL) + 1-byte in_use flag.
const EntrySize = 20

// MaxNameLen is the longest name a directory entry can hold, excluding
// the terminating NUL.
const MaxNameLen = 14

type entry struct {
	sector uint32
	name   string
	inUse  bool
}

func encodeEntry(e entry) []byte {
	buf := make([]byte, EntrySize)
	buf[0] = byte(e.sector)
	buf[1] = byte(e.sector >> 8)
	buf[2] = byte(e.sector >> 16)
	buf[3] = byte(e.sector >> 24)
	copy(buf[4:4+MaxNameLen+1], []byte(e.name))
	if e.inUse {
		buf[19] = 1
	}
	return buf
}

func decodeEntry(buf []byte) entry {
	sector := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	nameField := buf[4 : 4+MaxNameLen+1]
	if nul := bytes.IndexByte(nameField, 0); nul >= 0 {
		nameField = nameField[:nul]
	}
	return entry{
		sector: sector,
		name:   string(nameField),
		inUse:  buf[19] != 0,
	}
}

// ValidateName rejects names that cannot be stored in a directory entry.
// "." and ".." are valid names for lookup purposes but can never be
// Add-ed by a caller (they are written only by InitSelfEntries).
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("directory: empty name")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("directory: name %q exceeds %d bytes", name, MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == 0 {
			return fmt.Errorf("directory: invalid character in name %q", name)
		}
	}
	return nil
}

func readEntryAt(eng *inode.Engine, dir *inode.Inode, offset uint32) (entry, bool, error) {
	buf := make([]byte, EntrySize)
	n, err := eng.Read(dir, buf, EntrySize, offset)
	if err != nil {
		return entry{}, false, err
	}
	if n < EntrySize {
		return entry{}, false, nil
	}
	return decodeEntry(buf), true, nil
}

func writeEntryAt(eng *inode.Engine, dir *inode.Inode, offset uint32, e entry) error {
	buf := encodeEntry(e)
	n, err := eng.Write(dir, buf, EntrySize, offset)
	if err != nil {
		return err
	}
	if n != EntrySize {
		return fmt.Errorf("directory: short write at offset %d", offset)
	}
	return nil
}

// InitSelfEntries writes the "." and ".." entries that every directory
// begins with. This is how this implementation resolves the "weak parent
// reference" called for in spec §4.5/§9: "..", like every other name,
// resolves through the ordinary Lookup + engine.Open path (the
// process-wide open-inode identity table), so no separate parent pointer
// field is needed.
func InitSelfEntries(eng *inode.Engine, dir *inode.Inode, selfSector, parentSector uint32) error {
	if err := writeEntryAt(eng, dir, 0, entry{sector: selfSector, name: ".", inUse: true}); err != nil {
		return err
	}
	return writeEntryAt(eng, dir, EntrySize, entry{sector: parentSector, name: "..", inUse: true})
}

// Lookup linearly scans dir's entry stream for name.
func Lookup(eng *inode.Engine, dir *inode.Inode, name string) (sector uint32, ok bool, err error) {
	length := dir.Stat().Length
	for off := uint32(0); off+EntrySize <= length; off += EntrySize {
		e, present, rerr := readEntryAt(eng, dir, off)
		if rerr != nil {
			return 0, false, rerr
		}
		if present && e.inUse && e.name == name {
			return e.sector, true, nil
		}
	}
	return 0, false, nil
}

// Add scans for the first free slot (or appends) and writes a new entry
// for name -> childSector. Fails if name already exists.
func Add(eng *inode.Engine, dir *inode.Inode, name string, childSector uint32) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	length := dir.Stat().Length
	freeOffset := uint32(0)
	haveFree := false

	for off := uint32(0); off+EntrySize <= length; off += EntrySize {
		e, present, err := readEntryAt(eng, dir, off)
		if err != nil {
			return err
		}
		if !present {
			break
		}
		if e.inUse {
			if e.name == name {
				return fmt.Errorf("directory: %q already exists", name)
			}
		} else if !haveFree {
			freeOffset = off
			haveFree = true
		}
	}

	target := length
	if haveFree {
		target = freeOffset
	}
	return writeEntryAt(eng, dir, target, entry{sector: childSector, name: name, inUse: true})
}

// Remove marks the entry for name unused. Fails if the name is absent or
// is "." / "..".
func Remove(eng *inode.Engine, dir *inode.Inode, name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("directory: cannot remove %q", name)
	}
	length := dir.Stat().Length
	for off := uint32(0); off+EntrySize <= length; off += EntrySize {
		e, present, err := readEntryAt(eng, dir, off)
		if err != nil {
			return err
		}
		if present && e.inUse && e.name == name {
			e.inUse = false
			return writeEntryAt(eng, dir, off, e)
		}
	}
	return fmt.Errorf("directory: %q not found", name)
}

// IsEmpty reports whether dir has no entries other than "." and "..".
func IsEmpty(eng *inode.Engine, dir *inode.Inode) (bool, error) {
	length := dir.Stat().Length
	for off := uint32(0); off+EntrySize <= length; off += EntrySize {
		e, present, err := readEntryAt(eng, dir, off)
		if err != nil {
			return false, err
		}
		if present && e.inUse && e.name != "." && e.name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Cursor is a persistent, caller-owned byte offset into a directory's
// entry stream, advanced by Readdir. Its zero value starts at the
// beginning of the stream.
type Cursor struct {
	offset uint32
}

// Readdir advances cur past the next in_use entry excluding "." and "..",
// returning its name. ok is false once the stream is exhausted.
func Readdir(eng *inode.Engine, dir *inode.Inode, cur *Cursor) (name string, ok bool, err error) {
	length := dir.Stat().Length
	for cur.offset+EntrySize <= length {
		off := cur.offset
		cur.offset += EntrySize
		e, present, rerr := readEntryAt(eng, dir, off)
		if rerr != nil {
			return "", false, rerr
		}
		if present && e.inUse && e.name != "." && e.name != ".." {
			return e.name, true, nil
		}
	}
	return "", false, nil
}
