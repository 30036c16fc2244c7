// Package config holds the settings shared by the treesnap binaries.
//
// Settings start from Default, are overlaid by an optional YAML file and
// finally by command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/resolve"
)

// Store drivers.
const (
	DriverSQLite  = "sqlite"
	DriverRedis   = "redis"
	DriverFixture = "fixture"
)

// Config is the complete settings tree.
type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Bridge   BridgeConfig `mapstructure:"bridge"`
	Export   ExportConfig `mapstructure:"export"`
	Store    StoreConfig  `mapstructure:"store"`
	Daemon   DaemonConfig `mapstructure:"daemon"`
}

// BridgeConfig locates the runtime agent.
type BridgeConfig struct {
	URL         string        `mapstructure:"url"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// ExportConfig bounds exports.
type ExportConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxInFlight int64         `mapstructure:"max_in_flight"`
}

// StoreConfig selects where the tree is read from.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DBPath      string `mapstructure:"db_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	Fixture     string `mapstructure:"fixture"`
}

// DaemonConfig configures the mirror daemon.
type DaemonConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel: "info",
		Bridge: BridgeConfig{
			URL:         "ws://127.0.0.1:8097",
			CallTimeout: 5 * time.Second,
		},
		Export: ExportConfig{
			Timeout:     30 * time.Second,
			MaxInFlight: 64,
		},
		Store: StoreConfig{
			Driver:      DriverSQLite,
			DBPath:      "treesnap.db",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "treesnap:",
		},
		Daemon: DaemonConfig{
			ListenAddr:    "/tmp/treesnap.sock",
			HTTPAddr:      "127.0.0.1:9464",
			BatchSize:     100,
			FlushInterval: 100 * time.Millisecond,
		},
	}
}

// Load returns Default overlaid with the YAML file at path. An empty path
// or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Decode overlays YAML data onto cfg. Keys absent from data keep their
// current values; unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate checks values that would otherwise fail far from their source.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverRedis:
	case DriverFixture:
		if c.Store.Fixture == "" {
			return fmt.Errorf("store.driver %q needs store.fixture", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Export.MaxInFlight < 0 {
		return fmt.Errorf("export.max_in_flight must not be negative")
	}
	if c.Daemon.BatchSize <= 0 {
		return fmt.Errorf("daemon.batch_size must be positive")
	}
	return nil
}

// ExportLimits converts the settings into export limits.
func (c Config) ExportLimits() export.Config {
	return export.Config{
		Timeout: c.Export.Timeout,
		Resolve: resolve.Config{
			MaxInFlight: c.Export.MaxInFlight,
			CallTimeout: c.Bridge.CallTimeout,
		},
	}
}
