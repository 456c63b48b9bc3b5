package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsEmptyDevicePath(t *testing.T) {
	c := Default()
	c.DevicePath = ""
	require.Error(t, c.Validate())
}

func TestValidateRejectsZeroSectors(t *testing.T) {
	c := Default()
	c.DeviceSectors = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	c := Default()
	c.CacheFlushIntervalMs = 0
	require.Error(t, c.Validate())

	c = Default()
	c.ReadAheadQueueDepth = -1
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "verbose"
	require.Error(t, c.Validate())
}

func TestToFlagNameConvertsSnakeToKebab(t *testing.T) {
	require.Equal(t, "cache-flush-interval-ms", toFlagName("cache_flush_interval_ms"))
	require.Equal(t, "listen-addr", toFlagName("listen_addr"))
}
