package wireproto

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic identifies a PFS1 frame; the reference protocol's W64F tag
	// renamed for this syscall-over-the-wire protocol.
	Magic      = "PFS1"
	HeaderSize = 8

	MaxPath uint16 = 512
	MaxName uint16 = 14
)

// Opcodes, one per fd-level syscall in the spec's syscall inventory
// (§6), plus the process-lifecycle ops handled by fsserver's process
// table rather than fsproc itself.
const (
	OpHalt     byte = 0x00
	OpExit     byte = 0x01
	OpExec     byte = 0x02
	OpWait     byte = 0x03
	OpCreate   byte = 0x04
	OpRemove   byte = 0x05
	OpOpen     byte = 0x06
	OpFilesize byte = 0x07
	OpRead     byte = 0x08
	OpWrite    byte = 0x09
	OpSeek     byte = 0x0A
	OpTell     byte = 0x0B
	OpClose    byte = 0x0C
	OpChdir    byte = 0x0D
	OpMkdir    byte = 0x0E
	OpReaddir  byte = 0x0F
	OpIsdir    byte = 0x10
	OpInumber  byte = 0x11
)

// ReqHeader is the fixed 8-byte request header: magic, opcode, a
// reserved alignment byte, and a u16 payload length.
type ReqHeader struct {
	Op         byte
	Reserved   byte
	PayloadLen uint16
}

// ParseReqHeader parses the fixed 8-byte header. ok is false when the
// magic does not match "PFS1".
func ParseReqHeader(body []byte) (h ReqHeader, ok bool, err error) {
	if len(body) < HeaderSize {
		return h, false, fmt.Errorf("wireproto: body too short for header")
	}
	if string(body[0:4]) != Magic {
		return h, false, fmt.Errorf("wireproto: bad magic")
	}
	h.Op = body[4]
	h.Reserved = body[5]
	h.PayloadLen = binary.LittleEndian.Uint16(body[6:8])
	return h, true, nil
}

// BuildRequest assembles a full PFS1 request frame.
func BuildRequest(op byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("wireproto: request payload too large: %d", len(payload))
	}
	out := make([]byte, HeaderSize+len(payload))
	copy(out[0:4], []byte(Magic))
	out[4] = op
	out[5] = 0
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// BuildResponse assembles a full PFS1 response frame: magic, the
// echoed opcode, a status byte, and the payload.
func BuildResponse(opEcho, status byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("wireproto: response payload too large: %d", len(payload))
	}
	out := make([]byte, HeaderSize+len(payload))
	copy(out[0:4], []byte(Magic))
	out[4] = opEcho
	out[5] = status
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// RespHeader mirrors ReqHeader for the response direction: op echo,
// status, payload length.
type RespHeader struct {
	OpEcho     byte
	Status     byte
	PayloadLen uint16
}

// ParseRespHeader parses a response frame's fixed 8-byte header.
func ParseRespHeader(body []byte) (h RespHeader, ok bool, err error) {
	if len(body) < HeaderSize {
		return h, false, fmt.Errorf("wireproto: body too short for header")
	}
	if string(body[0:4]) != Magic {
		return h, false, fmt.Errorf("wireproto: bad magic")
	}
	h.OpEcho = body[4]
	h.Status = body[5]
	h.PayloadLen = binary.LittleEndian.Uint16(body[6:8])
	return h, true, nil
}
