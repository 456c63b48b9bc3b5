// Package config loads pfsd's runtime configuration via Viper: flags and
// PFS_-prefixed environment variables, in that precedence order, over the
// built-in defaults, following the binding pattern the gcsfuse command
// layer uses for its own cfg package. No config file is read.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything pfsd needs to serve the filesystem: the
// on-disk device image, buffer-cache sizing, and the HTTP bind address.
type Config struct {
	// ListenAddr is the HTTP bind address (e.g. ":8851").
	ListenAddr string `mapstructure:"listen_addr"`

	// DevicePath is the backing image file for the block device.
	DevicePath string `mapstructure:"device_path"`

	// DeviceSectors is the device size in 512-byte sectors, used only
	// when formatting a new image.
	DeviceSectors uint32 `mapstructure:"device_sectors"`

	// CacheFlushIntervalMs is a flush interval in milliseconds. It is
	// validated but not passed to the buffer cache, whose periodic flush
	// uses the fixed buffercache.FlushInterval.
	CacheFlushIntervalMs int `mapstructure:"cache_flush_interval_ms"`

	// ReadAheadQueueDepth is a read-ahead queue capacity. It is validated
	// but not passed to the buffer cache, whose queue is bounded by the
	// fixed buffercache.ReadAheadQueueDepth.
	ReadAheadQueueDepth int `mapstructure:"read_ahead_queue_depth"`

	// LogPath is the rotated log file path; empty means stderr only.
	LogPath string `mapstructure:"log_path"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `mapstructure:"log_level"`

	// MetricsAddr is loaded but not used by pfsd serve: /metrics and
	// /healthz are served on ListenAddr next to the PFS1 endpoint, whatever
	// this field holds.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Default returns the baseline configuration used when no flag or env
// var overrides a field.
func Default() Config {
	return Config{
		ListenAddr:           ":8851",
		DevicePath:           "pfs.img",
		DeviceSectors:        8192,
		CacheFlushIntervalMs: 1000,
		ReadAheadQueueDepth:  256,
		LogPath:              "",
		LogLevel:             "info",
		MetricsAddr:          ":9851",
	}
}

// BindFlags registers pfsd's flags on fs and ties each one to its
// Viper key, so flag > env > default precedence holds
// without any manual plumbing per field.
func BindFlags(fs *pflag.FlagSet) error {
	d := Default()
	fs.String("listen-addr", d.ListenAddr, "HTTP bind address for the wire protocol")
	fs.String("device-path", d.DevicePath, "path to the backing block device image")
	fs.Uint32("device-sectors", d.DeviceSectors, "device size in sectors (mkfs only)")
	fs.Int("cache-flush-interval-ms", d.CacheFlushIntervalMs, "buffer cache periodic flush interval")
	fs.Int("read-ahead-queue-depth", d.ReadAheadQueueDepth, "buffer cache read-ahead queue capacity")
	fs.String("log-path", d.LogPath, "rotated log file path (empty = stderr)")
	fs.String("log-level", d.LogLevel, "log level: debug|info|warn|error")
	fs.String("metrics-addr", d.MetricsAddr, "unused; /healthz and /metrics are served on --listen-addr")

	for _, name := range []string{
		"listen_addr", "device_path", "device_sectors", "cache_flush_interval_ms",
		"read_ahead_queue_depth", "log_path", "log_level", "metrics_addr",
	} {
		flagName := toFlagName(name)
		if err := viper.BindPFlag(name, fs.Lookup(flagName)); err != nil {
			return fmt.Errorf("config: bind flag %q: %w", flagName, err)
		}
	}
	return nil
}

func toFlagName(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '_' {
			out = append(out, '-')
		} else {
			out = append(out, key[i])
		}
	}
	return string(out)
}

// Load unmarshals Viper's merged flag/env state into a Config.
func Load() (Config, error) {
	cfg := Default()
	viper.SetEnvPrefix("PFS")
	viper.AutomaticEnv()
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects a configuration that cannot possibly serve.
func (c Config) Validate() error {
	if c.DevicePath == "" {
		return fmt.Errorf("config: device_path must not be empty")
	}
	if c.DeviceSectors == 0 {
		return fmt.Errorf("config: device_sectors must be positive")
	}
	if c.CacheFlushIntervalMs <= 0 {
		return fmt.Errorf("config: cache_flush_interval_ms must be positive")
	}
	if c.ReadAheadQueueDepth <= 0 {
		return fmt.Errorf("config: read_ahead_queue_depth must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
