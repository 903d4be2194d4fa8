package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete driftfs configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DRIFTFS_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Store Configuration Pattern:
// Each metadata backend defines its own configuration type. The Metadata
// section contains one type-specific subsection per backend and only the
// subsection matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Storage configures the local content cache
	Storage StorageConfig `mapstructure:"storage"`

	// Remote configures the server connection
	Remote RemoteConfig `mapstructure:"remote"`

	// Provider contains sync core tunables
	Provider ProviderConfig `mapstructure:"provider"`

	// Metadata specifies the metadata store type and type-specific
	// configuration
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Accounts seeds the account table at startup
	Accounts []AccountConfig `mapstructure:"accounts" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig configures the local content cache.
type StorageConfig struct {
	// Root is the directory holding materialized file content
	Root string `mapstructure:"root" validate:"required"`
}

// RemoteConfig configures the connection to the file server.
type RemoteConfig struct {
	// Timeout bounds each individual request
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0"`

	// UserAgent is sent with every request
	UserAgent string `mapstructure:"user_agent"`

	// RequestsPerSecond throttles the sustained request rate against the
	// server. Zero disables throttling.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the throttle bucket capacity. Zero means twice the rate.
	Burst uint `mapstructure:"burst"`
}

// ProviderConfig contains the sync core tunables.
type ProviderConfig struct {
	// PageSize is the number of items per enumeration page
	PageSize int `mapstructure:"page_size" validate:"required,gt=0"`

	// RankBase is the reserved low range of favorite ranks
	RankBase int64 `mapstructure:"rank_base" validate:"required,gt=0"`

	// ShowHidden includes dot-prefixed entries in directory refreshes
	ShowHidden bool `mapstructure:"show_hidden"`
}

// MetadataConfig specifies metadata store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use.
	// Valid values: memory, badger, sqlite
	Type string `mapstructure:"type" validate:"required,oneof=memory badger sqlite"`

	// Memory contains memory-specific configuration.
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration.
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// SQLite contains SQLite-specific configuration.
	// Only used when Type = "sqlite"
	SQLite map[string]any `mapstructure:"sqlite"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Address is the listen address of the metrics endpoint
	Address string `mapstructure:"address"`
}

// AccountConfig seeds one account into the metadata store at startup.
type AccountConfig struct {
	// ID is the unique account identifier
	ID string `mapstructure:"id" validate:"required"`

	// User is the display user name
	User string `mapstructure:"user"`

	// UserID is the server-side user identifier used for DAV paths
	UserID string `mapstructure:"user_id" validate:"required"`

	// ServerURL is the base URL of the remote server
	ServerURL string `mapstructure:"server_url" validate:"required,url"`

	// Password is the account secret. Never logged.
	Password string `mapstructure:"password"`

	// Active marks the account the provider binds to at startup
	Active bool `mapstructure:"active"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DRIFTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DRIFTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is acceptable; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "driftfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
