// Package config provides YAML-based configuration loading for meshio.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Bearer selects and configures the backend transport
	Bearer BearerConfig `mapstructure:"bearer"`

	// IO holds scan/window policy for the I/O layer
	IO IOConfig `mapstructure:"io"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// BearerConfig selects the backend transport.
type BearerConfig struct {
	// Kind: mem, udp or winpipe
	Kind string `mapstructure:"kind"`

	// UDP configures the multicast backend
	UDP UDPConfig `mapstructure:"udp"`

	// Pipe configures the winpipe backend
	Pipe PipeConfig `mapstructure:"pipe"`
}

// UDPConfig configures the multicast bearer.
type UDPConfig struct {
	// Group is the multicast "addr:port" emulating the shared channel
	Group string `mapstructure:"group"`
	// Interface optionally names the interface to join on
	Interface string `mapstructure:"interface"`
	// Channel is the advertising channel stamped on outbound frames
	Channel uint8 `mapstructure:"channel"`
}

// PipeConfig configures the named-pipe bearer.
type PipeConfig struct {
	Name string `mapstructure:"name"`
}

// IOConfig holds I/O layer policy.
type IOConfig struct {
	// PassiveScan keeps reception enabled outside Poll windows
	PassiveScan bool `mapstructure:"passive_scan"`
	// CloseWindowOnMatch ends a Poll window on the first qualifying receive
	CloseWindowOnMatch bool `mapstructure:"close_window_on_match"`
	// MaxPayload caps outbound payloads below the bearer limit; 0 keeps
	// the bearer limit
	MaxPayload int `mapstructure:"max_payload"`
	// BeaconIntervalMS is the demo node's beacon repeat interval
	BeaconIntervalMS int `mapstructure:"beacon_interval_ms"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "meshio-node",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/meshio.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Bearer: BearerConfig{
			Kind: "udp",
			UDP: UDPConfig{
				Group:   "239.109.101.1:37773",
				Channel: 37,
			},
			Pipe: PipeConfig{Name: `\\.\pipe\meshio-radio`},
		},
		IO: IOConfig{
			PassiveScan:        true,
			CloseWindowOnMatch: false,
			BeaconIntervalMS:   1000,
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix MESHIO and `.`/`-` are
// replaced with `_`. Example: MESHIO_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MESHIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("bearer.kind", cfg.Bearer.Kind)
	v.SetDefault("bearer.udp.group", cfg.Bearer.UDP.Group)
	v.SetDefault("bearer.udp.interface", cfg.Bearer.UDP.Interface)
	v.SetDefault("bearer.udp.channel", cfg.Bearer.UDP.Channel)
	v.SetDefault("bearer.pipe.name", cfg.Bearer.Pipe.Name)
	v.SetDefault("io.passive_scan", cfg.IO.PassiveScan)
	v.SetDefault("io.close_window_on_match", cfg.IO.CloseWindowOnMatch)
	v.SetDefault("io.max_payload", cfg.IO.MaxPayload)
	v.SetDefault("io.beacon_interval_ms", cfg.IO.BeaconIntervalMS)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("MESHIO_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `meshio`
		v.SetConfigName("meshio")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshio"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	switch strings.ToLower(strings.TrimSpace(c.Bearer.Kind)) {
	case "mem", "udp", "winpipe":
		c.Bearer.Kind = strings.ToLower(strings.TrimSpace(c.Bearer.Kind))
	default:
		return fmt.Errorf("invalid bearer.kind: %q", c.Bearer.Kind)
	}

	if c.IO.MaxPayload < 0 {
		return fmt.Errorf("invalid io.max_payload: %d", c.IO.MaxPayload)
	}
	if c.IO.BeaconIntervalMS <= 0 {
		c.IO.BeaconIntervalMS = 1000
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
