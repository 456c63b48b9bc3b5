package directory

import "strings"

// segments tokenizes path on '/'. It never mutates path (Go strings are
// immutable, and every returned segment is a fresh substring) — this is
// the fix for the reference's get_name, which tokenized by writing NULs
// into the caller's buffer (spec §9 open issue).
//
// Empty tokens between consecutive slashes are no-ops and are dropped,
// except that the very last token is preserved even if empty, so that a
// path ending in '/' reports an empty last segment as spec §4.5 step 5
// requires.
func segments(path string) (absolute bool, segs []string) {
	absolute = strings.HasPrefix(path, "/")
	rest := path
	if absolute {
		rest = path[1:]
	}
	raw := strings.Split(rest, "/")
	out := make([]string, 0, len(raw))
	for i, s := range raw {
		last := i == len(raw)-1
		if s == "" && !last {
			continue
		}
		out = append(out, s)
	}
	return absolute, out
}
