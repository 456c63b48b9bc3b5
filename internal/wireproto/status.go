package wireproto

// Status codes carried in a PFS1 response header, taxonomized per
// spec §7 (invalid-argument / not-found / conflict / out-of-space /
// integrity / resource-denied) and modeled on the teacher's
// proto.Status* constants.
const (
	StatusOK            byte = 0
	StatusNotFound      byte = 1
	StatusNotADir       byte = 2
	StatusIsADir        byte = 3
	StatusAlreadyExists byte = 4
	StatusDirNotEmpty   byte = 5
	StatusAccessDenied  byte = 6
	StatusInvalidPath   byte = 7
	StatusBadFD         byte = 8
	StatusNoSpace       byte = 9
	StatusBadRequest    byte = 10
	StatusInternal      byte = 11
	StatusCorrupt       byte = 12
)
