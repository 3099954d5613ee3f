package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Transfers TransfersConfig `mapstructure:"transfers"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DataDir   string          `mapstructure:"data_dir"`
}

// BackendConfig holds connection settings for the panel backend.
type BackendConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PushPath       string        `mapstructure:"push_path"`
}

// TransfersConfig holds upload/download tracking settings.
type TransfersConfig struct {
	HistoryCap  int    `mapstructure:"history_cap"`
	DownloadDir string `mapstructure:"download_dir"`
}

// TasksConfig holds background-task mirroring settings.
type TasksConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CacheConfig holds the read-endpoint response cache settings.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	MaxItems int           `mapstructure:"max_items"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultDataDir returns the per-user data directory for panelctl.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".config", "panelctl")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            "http://127.0.0.1:8080",
			RequestTimeout: 30 * time.Second,
			PushPath:       "/api/ws",
		},
		Transfers: TransfersConfig{
			HistoryCap:  60,
			DownloadDir: ".",
		},
		Tasks: TasksConfig{
			PollInterval: 15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:      30 * time.Second,
			MaxItems: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		DataDir: DefaultDataDir(),
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	v.SetEnvPrefix("PANELCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://127.0.0.1:8080")
	v.SetDefault("backend.request_timeout", 30*time.Second)
	v.SetDefault("backend.push_path", "/api/ws")

	v.SetDefault("transfers.history_cap", 60)
	v.SetDefault("transfers.download_dir", ".")

	v.SetDefault("tasks.poll_interval", 15*time.Second)

	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.max_items", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("data_dir", DefaultDataDir())
}
