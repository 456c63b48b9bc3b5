package inode

import "errors"

// ErrCorrupt marks an integrity violation (bad magic, out-of-range extent
// counts, cyclic structure). These are fatal: callers must not treat them
// as an ordinary syscall error. internal/fsserver detects them with
// errors.Is on the wrapped error chain and turns them into a panic at its
// single per-request recovery boundary, rather than this package exposing
// a dedicated signaling method.
var ErrCorrupt = errors.New("inode: integrity violation")

// ErrNoSpace indicates the allocator could not satisfy a sector request
// (spec §7 out-of-space).
var ErrNoSpace = errors.New("inode: out of space")
