// Package config provides configuration management for the coordination service.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Region  RegionConfig  `mapstructure:"region"`
	IPC     IPCConfig     `mapstructure:"ipc"`
	Journal JournalConfig `mapstructure:"journal"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Log     LogConfig     `mapstructure:"log"`
}

// RegionConfig holds shared region configuration.
type RegionConfig struct {
	// Key identifies the shared region among cooperating processes.
	Key int `mapstructure:"key"`

	// Size is the region size in bytes. Must be at least 32 KiB.
	Size int `mapstructure:"size"`

	// Provider selects the region backend: "shm" or "memory".
	Provider string `mapstructure:"provider"`
}

// IPCConfig holds cross-process synchronisation configuration.
type IPCConfig struct {
	// Locker selects the lock implementation: "futex" or "local".
	// "futex" requires the "shm" region provider.
	Locker string `mapstructure:"locker"`
}

// JournalConfig holds the optional operation journal configuration.
type JournalConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // mysql, postgres or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"` // sqlite file path
	MaxConns int    `mapstructure:"max_conns"`
}

// ArchiveConfig holds snapshot archive configuration.
type ArchiveConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"` // for local archive
}

// MonitorConfig holds monitor service configuration.
type MonitorConfig struct {
	// Interval is the snapshot interval in seconds.
	Interval int `mapstructure:"interval"`

	// ListenAddr is the HTTP listen address for status and metrics.
	ListenAddr string `mapstructure:"listen_addr"`

	// ArchiveSnapshots enables persisting snapshots to the archive backend.
	ArchiveSnapshots bool `mapstructure:"archive_snapshots"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sfs-coordinator")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
		} else if os.IsNotExist(err) {
			// File specified but doesn't exist, use defaults
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow environment variables to override config, e.g. SFS_REGION_KEY.
	v.SetEnvPrefix("SFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Region defaults
	v.SetDefault("region.key", 8777)
	v.SetDefault("region.size", 32*1024)
	v.SetDefault("region.provider", "shm")

	// IPC defaults
	v.SetDefault("ipc.locker", "futex")

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.type", "sqlite")
	v.SetDefault("journal.path", "./sfs-journal.db")
	v.SetDefault("journal.port", 5432)
	v.SetDefault("journal.max_conns", 10)

	// Archive defaults
	v.SetDefault("archive.type", "local")
	v.SetDefault("archive.local_path", "./snapshots")

	// Monitor defaults
	v.SetDefault("monitor.interval", 10)
	v.SetDefault("monitor.listen_addr", ":8080")
	v.SetDefault("monitor.archive_snapshots", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Region.Key <= 0 {
		return fmt.Errorf("region key must be positive")
	}
	if c.Region.Size < 32*1024 {
		return fmt.Errorf("region size must be at least 32 KiB, got %d", c.Region.Size)
	}
	if c.Region.Provider != "shm" && c.Region.Provider != "memory" {
		return fmt.Errorf("unsupported region provider: %s", c.Region.Provider)
	}

	if c.IPC.Locker != "futex" && c.IPC.Locker != "local" {
		return fmt.Errorf("unsupported locker type: %s", c.IPC.Locker)
	}
	if c.IPC.Locker == "futex" && c.Region.Provider != "shm" {
		return fmt.Errorf("futex locker requires the shm region provider")
	}

	if c.Journal.Enabled {
		switch c.Journal.Type {
		case "sqlite":
			if c.Journal.Path == "" {
				return fmt.Errorf("journal path is required for sqlite")
			}
		case "mysql", "postgres":
			if c.Journal.Host == "" {
				return fmt.Errorf("journal host is required for %s", c.Journal.Type)
			}
		default:
			return fmt.Errorf("unsupported journal type: %s", c.Journal.Type)
		}
	}

	if c.Monitor.Interval < 1 {
		return fmt.Errorf("monitor interval must be at least 1 second")
	}

	return nil
}
