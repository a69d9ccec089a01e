// Package config loads and validates the server configuration. A
// config file is optional; Default covers local runs and the cmd
// binaries layer flags on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full server configuration.
type Config struct {
	// Addr is the address the RESP listener binds.
	Addr string `yaml:"addr"`

	// PprofAddr, when set, serves net/http/pprof on that address.
	PprofAddr string `yaml:"pprof_addr"`

	// Multicore spreads the event loop over all cores. Only the gnet
	// binary reads it.
	Multicore bool `yaml:"multicore"`

	// GCPercent is handed to debug.SetGCPercent when non-zero; -1
	// disables the collector.
	GCPercent int `yaml:"gc_percent"`

	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// StoreConfig sizes the key-value store and its expiry janitor.
type StoreConfig struct {
	Shards           int      `yaml:"shards"`
	Capacity         int      `yaml:"capacity"`
	JanitorInterval  Duration `yaml:"janitor_interval"`
	JanitorScanLimit int      `yaml:"janitor_scan_limit"`
}

// LogConfig selects the log level and an optional rotating file
// target. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:      ":6379",
		Multicore: true,
		Store: StoreConfig{
			JanitorInterval:  Duration(500 * time.Millisecond),
			JanitorScanLimit: 4096,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  128,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var err error
	if c.Addr == "" {
		err = multierr.Append(err, errors.New("addr must not be empty"))
	}
	if c.GCPercent < -1 {
		err = multierr.Append(err, fmt.Errorf("gc_percent %d out of range", c.GCPercent))
	}
	if s := c.Store.Shards; s < 0 || s&(s-1) != 0 {
		err = multierr.Append(err, fmt.Errorf("store.shards %d must be a power of two", s))
	}
	if c.Store.Capacity < 0 {
		err = multierr.Append(err, fmt.Errorf("store.capacity %d must not be negative", c.Store.Capacity))
	}
	if c.Store.JanitorInterval < 0 {
		err = multierr.Append(err, errors.New("store.janitor_interval must not be negative"))
	}
	if c.Store.JanitorScanLimit < 0 {
		err = multierr.Append(err, errors.New("store.janitor_scan_limit must not be negative"))
	}
	if _, lerr := zap.ParseAtomicLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		err = multierr.Append(err, errors.New("log rotation sizes must not be negative"))
	}
	return err
}
