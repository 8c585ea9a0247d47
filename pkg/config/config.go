package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file looked up inside a profile directory.
const FileName = "config.toml"

// Duration is a time.Duration written as a string ("60s", "200ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig defines the listener and protocol timing.
type ServerConfig struct {
	Network           string   `toml:"network"`
	Address           string   `toml:"address"`
	HeartbeatInterval Duration `toml:"heartbeatInterval"`
	ReconnectBackoff  Duration `toml:"reconnectBackoff"`
	AckPollInterval   Duration `toml:"ackPollInterval"`
	AckPollLimit      int      `toml:"ackPollLimit"`
	AckRetryDelay     Duration `toml:"ackRetryDelay"`
	ShutdownTimeout   Duration `toml:"shutdownTimeout"`
	MaxFrameBytes     int      `toml:"maxFrameBytes"`
}

// HostConfig defines the tick cadence.
type HostConfig struct {
	TickInterval Duration `toml:"tickInterval"`
}

// IntrospectionConfig bounds object dumps.
type IntrospectionConfig struct {
	MaxDepth      int  `toml:"maxDepth"`
	MaxItems      int  `toml:"maxItems"`
	MaxMembers    int  `toml:"maxMembers"`
	SkipOpaque    bool `toml:"skipOpaque"`
	SkipSynthetic bool `toml:"skipSynthetic"`
	InvokeGetters bool `toml:"invokeGetters"`
}

// JournalConfig controls the exchange journal.
type JournalConfig struct {
	Enabled    bool   `toml:"enabled"`
	DBPath     string `toml:"dbPath"`
	MaxEntries int    `toml:"maxEntries"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
}

// Config aggregates service configuration for a profile.
type Config struct {
	ProfileName   string              `toml:"profileName"`
	Server        ServerConfig        `toml:"server"`
	Host          HostConfig          `toml:"host"`
	Introspection IntrospectionConfig `toml:"introspection"`
	Journal       JournalConfig       `toml:"journal"`
	Logging       LoggingConfig       `toml:"logging"`
}

// DefaultConfig returns the stock settings for a profile.
func DefaultConfig(name string) *Config {
	return &Config{
		ProfileName: name,
		Server: ServerConfig{
			Network:           "tcp",
			Address:           "127.0.0.1:8765",
			HeartbeatInterval: Duration{60 * time.Second},
			ReconnectBackoff:  Duration{time.Second},
			AckPollInterval:   Duration{50 * time.Millisecond},
			AckPollLimit:      200,
			AckRetryDelay:     Duration{200 * time.Millisecond},
			ShutdownTimeout:   Duration{2 * time.Second},
			MaxFrameBytes:     10 << 20,
		},
		Host: HostConfig{TickInterval: Duration{16 * time.Millisecond}},
		Introspection: IntrospectionConfig{
			MaxDepth:      5,
			MaxItems:      50,
			MaxMembers:    10,
			SkipOpaque:    true,
			SkipSynthetic: true,
			InvokeGetters: true,
		},
		Journal: JournalConfig{
			Enabled:    true,
			DBPath:     "journal.db",
			MaxEntries: 10000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config.toml from the provided path. Keys missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig("")
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadProfile loads dir/config.toml, falling back to defaults named after the
// directory when the file does not exist. Relative paths are resolved against dir.
func LoadProfile(dir string) (*Config, error) {
	cfg, err := Load(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		cfg = DefaultConfig(filepath.Base(dir))
	} else if err != nil {
		return nil, err
	}
	cfg.Journal.DBPath = ResolvePath(dir, cfg.Journal.DBPath)
	cfg.Logging.FilePath = ResolvePath(dir, cfg.Logging.FilePath)
	return cfg, nil
}

// Save writes cfg as TOML to path.
func Save(path string, cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath anchors a relative p at profileDir. Empty paths stay empty.
func ResolvePath(profileDir, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(profileDir, p)
}

func (cfg *Config) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	switch cfg.Server.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	case "":
		cfg.Server.Network = "tcp"
	default:
		return fmt.Errorf("server.network %q not supported", cfg.Server.Network)
	}
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address required")
	}
	if cfg.Server.MaxFrameBytes < 0 || cfg.Server.MaxFrameBytes > 10<<20 {
		return fmt.Errorf("server.maxFrameBytes must be between 0 and %d", 10<<20)
	}
	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		return fmt.Errorf("journal.dbPath required when the journal is enabled")
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not supported", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("logging.format %q not supported", cfg.Logging.Format)
	}
	return nil
}
