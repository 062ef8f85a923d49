package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ernie/trinity-replay/internal/replay"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Replay   ReplayConfig   `yaml:"replay"`
	NATS     NATSConfig     `yaml:"nats"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	StaticDir  string `yaml:"static_dir"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ReplayConfig holds playback settings for replay sessions
type ReplayConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	DefaultSelection int           `yaml:"default_selection"`
}

// NATSConfig holds the telemetry broker settings. With Embedded set an
// in-process server is started on Host:Port and URL may be left empty.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether telemetry ingest is configured
func (c NATSConfig) Enabled() bool {
	return c.Embedded || c.URL != ""
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/trinity/replay.db"
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files

	cfg.Replay.TickInterval = replay.ClampTickInterval(cfg.Replay.TickInterval)
	if cfg.Replay.DefaultSelection <= 0 {
		cfg.Replay.DefaultSelection = replay.DefaultSelectionSize
	}

	if cfg.NATS.Host == "" {
		cfg.NATS.Host = "127.0.0.1"
	}
	if cfg.NATS.Port == 0 {
		cfg.NATS.Port = 4222
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "trinity.replay"
	}
}
