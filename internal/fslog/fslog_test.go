package fslog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyPathLogsToStderr(t *testing.T) {
	log := New(Options{Level: "info"})
	require.NotNil(t, log)
}

func TestNewWithPathWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pfsd.log")
	log := New(Options{Path: path, Level: "debug"})
	log.Info("hello")

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestLevelFromStringMapsKnownLevels(t *testing.T) {
	require.Equal(t, slog.LevelDebug, levelFromString("debug"))
	require.Equal(t, slog.LevelWarn, levelFromString("warn"))
	require.Equal(t, slog.LevelError, levelFromString("error"))
	require.Equal(t, slog.LevelInfo, levelFromString("info"))
	require.Equal(t, slog.LevelInfo, levelFromString("unknown"))
}
