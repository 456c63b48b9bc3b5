package fsserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestLogSnapshotOrderedOldestFirst(t *testing.T) {
	l := newRequestLog(4)
	for i := byte(0); i < 3; i++ {
		l.add(logEntry{Op: i})
	}
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, byte(0), snap[0].Op)
	require.Equal(t, byte(2), snap[2].Op)
}

func TestRequestLogWrapsAtCapacity(t *testing.T) {
	l := newRequestLog(3)
	for i := byte(0); i < 5; i++ {
		l.add(logEntry{Op: i})
	}
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	// Only the 3 most recent entries survive: ops 2, 3, 4.
	require.Equal(t, byte(2), snap[0].Op)
	require.Equal(t, byte(3), snap[1].Op)
	require.Equal(t, byte(4), snap[2].Op)
}
