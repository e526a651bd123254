// Package config loads application configuration from file and
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Subsonic SubsonicConfig `mapstructure:"subsonic"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SubsonicConfig holds the primary server connection.
type SubsonicConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SyncConfig holds sync tuning.
type SyncConfig struct {
	DataSaving        bool    `mapstructure:"data_saving"`        // Skip asset stages, no automatic runs
	DetailParallelism int     `mapstructure:"detail_parallelism"` // Concurrent detail fetches
	AssetRate         float64 `mapstructure:"asset_rate"`         // Asset fetches per second
	MinIntervalHours  int     `mapstructure:"min_interval_hours"` // Throttle for automatic runs
	StallMinutes      int     `mapstructure:"stall_minutes"`      // Stall recovery threshold
}

// CacheConfig holds cache storage configuration.
type CacheConfig struct {
	Dir string `mapstructure:"dir"` // Empty means memory-only
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			DetailParallelism: 4,
			AssetRate:         10,
			MinIntervalHours:  6,
			StallMinutes:      15,
		},
		Cache: CacheConfig{
			Dir: defaultCachePath(),
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// Load loads configuration from file and environment. A missing config
// file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("TUTTI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the default config file.
func Save(cfg *Config) error {
	configPath := defaultConfigPath()
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to keep snake_case key names.
	viper.Set("subsonic.url", cfg.Subsonic.URL)
	viper.Set("subsonic.username", cfg.Subsonic.Username)
	viper.Set("subsonic.password", cfg.Subsonic.Password)
	viper.Set("sync.data_saving", cfg.Sync.DataSaving)
	viper.Set("sync.detail_parallelism", cfg.Sync.DetailParallelism)
	viper.Set("sync.asset_rate", cfg.Sync.AssetRate)
	viper.Set("sync.min_interval_hours", cfg.Sync.MinIntervalHours)
	viper.Set("sync.stall_minutes", cfg.Sync.StallMinutes)
	viper.Set("cache.dir", cfg.Cache.Dir)
	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// IsConfigured reports whether a Subsonic server is set up.
func (c *Config) IsConfigured() bool {
	return c.Subsonic.URL != "" && c.Subsonic.Username != ""
}

func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tutti")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tutti")
	}
}

func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "tutti", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "tutti", "cache")
	}
}

func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tutti", "tutti.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "tutti", "tutti.log")
	}
}
