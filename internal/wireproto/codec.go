// Package wireproto implements PFS1, the binary wire protocol that
// exposes the fd-level syscall inventory (internal/fsproc) over a byte
// stream: a fixed request header, little-endian payload encoding, and a
// matching response envelope.
//
// Grounded directly on the teacher's internal/proto package (W64F):
// same fixed-header-plus-length-prefixed-payload shape, same
// Encoder/Decoder primitive set, renamed and re-opcoded for the
// filesystem syscall table instead of the remote-storage command set.
package wireproto

import (
	"encoding/binary"
	"fmt"
)

// Decoder reads little-endian primitives from a byte slice.
type Decoder struct {
	b []byte
	o int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b, o: 0}
}

func (d *Decoder) Remaining() int { return len(d.b) - d.o }

func (d *Decoder) ReadU8() (byte, error) {
	if d.Remaining() < 1 {
		return 0, fmt.Errorf("wireproto: need 1 byte")
	}
	v := d.b[d.o]
	d.o++
	return v, nil
}

func (d *Decoder) ReadU32() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, fmt.Errorf("wireproto: need 4 bytes")
	}
	v := binary.LittleEndian.Uint32(d.b[d.o : d.o+4])
	d.o += 4
	return v, nil
}

func (d *Decoder) ReadU16() (uint16, error) {
	if d.Remaining() < 2 {
		return 0, fmt.Errorf("wireproto: need 2 bytes")
	}
	v := binary.LittleEndian.Uint16(d.b[d.o : d.o+2])
	d.o += 2
	return v, nil
}

func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("wireproto: negative length")
	}
	if d.Remaining() < n {
		return nil, fmt.Errorf("wireproto: need %d bytes", n)
	}
	v := d.b[d.o : d.o+n]
	d.o += n
	return v, nil
}

// ReadString reads a u16 length-prefixed string, bounded by maxLen
// (MaxPath or MaxName depending on the field).
func (d *Decoder) ReadString(maxLen uint16) (string, error) {
	ln, err := d.ReadU16()
	if err != nil {
		return "", err
	}
	if ln > maxLen {
		return "", fmt.Errorf("wireproto: string length %d exceeds limit %d", ln, maxLen)
	}
	b, err := d.ReadBytes(int(ln))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Encoder builds little-endian protocol payloads.
type Encoder struct {
	b []byte
}

func NewEncoder(capacity int) *Encoder {
	if capacity < 0 {
		capacity = 0
	}
	return &Encoder{b: make([]byte, 0, capacity)}
}

func (e *Encoder) Bytes() []byte { return e.b }

func (e *Encoder) WriteU8(v byte) { e.b = append(e.b, v) }

func (e *Encoder) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *Encoder) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *Encoder) WriteBytes(b []byte) { e.b = append(e.b, b...) }

// WriteString writes a u16 length-prefixed string.
func (e *Encoder) WriteString(s string) error {
	b := []byte(s)
	if len(b) > 0xFFFF {
		return fmt.Errorf("wireproto: string too long: %d", len(b))
	}
	e.WriteU16(uint16(len(b)))
	e.WriteBytes(b)
	return nil
}
