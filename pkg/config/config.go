package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/immutabled/pkg/adapter/socket"
	"github.com/marmos91/immutabled/pkg/tools"
	"github.com/spf13/viper"
)

// Config represents the complete broker configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (IMMUTABLED_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each ledger backend defines its own configuration type. The ledger section
// holds one option map per backend and only the map matching ledger.type is
// decoded, by the factory that builds the store.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Auth holds the shared secret clients must present
	Auth AuthConfig `mapstructure:"auth"`

	// Socket configures the unix socket the broker listens on
	Socket SocketConfig `mapstructure:"socket"`

	// Ledger selects and configures the retention ledger backend
	Ledger LedgerConfig `mapstructure:"ledger"`

	// Retention controls how the ledger is consulted before deletes
	Retention RetentionConfig `mapstructure:"retention"`

	// Tools configures the external labeler and syncer
	Tools ToolsConfig `mapstructure:"tools"`

	// Files sets the permissions of files and directories the broker creates
	Files FilesConfig `mapstructure:"files"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Archive configures periodic ledger uploads to S3
	Archive ArchiveConfig `mapstructure:"archive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for in-flight requests
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// AuthConfig holds the shared secret. Exactly one of Token and TokenFile
// should be set; TokenFile wins when both are.
type AuthConfig struct {
	Token string `mapstructure:"token" validate:"max=127"`

	// TokenFile is read at startup; surrounding whitespace is trimmed.
	TokenFile string `mapstructure:"token_file"`
}

// SocketConfig configures the unix socket adapter.
type SocketConfig struct {
	Path string `mapstructure:"path" validate:"required,max=107"`

	// Mode is an octal permission string applied after bind (e.g. "0600")
	Mode string `mapstructure:"mode" validate:"required,filemode"`

	// MaxConnections bounds concurrently served peers. 1 serves requests
	// strictly one at a time.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`

	// ReadTimeout and WriteTimeout bound slow peers. 0 disables them.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`

	// MaxPayloadBytes rejects larger write payloads
	MaxPayloadBytes uint64 `mapstructure:"max_payload_bytes" validate:"gt=0"`

	// PayloadTrailingGrace is how long to watch for bytes beyond the
	// declared payload length
	PayloadTrailingGrace time.Duration `mapstructure:"payload_trailing_grace" validate:"gte=0"`

	RateLimit socket.RateLimitConfig `mapstructure:"rate_limit"`
}

// LedgerConfig specifies the retention ledger backend.
type LedgerConfig struct {
	// Type specifies which ledger implementation to use
	// Valid values: file, memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=file memory badger"`

	// File contains file backend options (path, sync_writes)
	// Only used when Type = "file"
	File map[string]any `mapstructure:"file"`

	// Memory contains memory backend options
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB options (db_path, sync_writes, cache sizes)
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// RetentionConfig controls delete protection.
type RetentionConfig struct {
	// FailClosed refuses deletes when the ledger cannot be read. The default
	// lets them through.
	FailClosed bool `mapstructure:"fail_closed"`
}

// ToolsConfig configures the external labeler and syncer.
type ToolsConfig struct {
	Label tools.LabelConfig `mapstructure:"label"`
	Sync  tools.SyncConfig  `mapstructure:"sync"`
}

// FilesConfig sets permissions for created files and directories, as octal
// strings.
type FilesConfig struct {
	DirMode  string `mapstructure:"dir_mode" validate:"required,filemode"`
	FileMode string `mapstructure:"file_mode" validate:"required,filemode"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// ArchiveConfig configures ledger uploads.
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Interval between uploads. 0 uploads only on shutdown.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`

	// S3 holds the bucket options (region, bucket, key_prefix, endpoint,
	// access_key_id, secret_access_key, max_retries, object_lock_days)
	S3 map[string]any `mapstructure:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IMMUTABLED_*)
//  2. Configuration file
//  3. Default values
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

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: IMMUTABLED_AUTH_TOKEN=secret
	v.SetEnvPrefix("IMMUTABLED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.shutdown_timeout",
		"auth.token", "auth.token_file",
		"socket.path", "socket.mode", "socket.max_connections",
		"ledger.type",
		"retention.fail_closed",
		"metrics.enabled", "metrics.port",
		"archive.enabled", "archive.interval",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/immutabled/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
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
		return filepath.Join(xdgConfig, "immutabled")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "immutabled")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// ResolveToken returns the shared secret, reading TokenFile when set.
func (c AuthConfig) ResolveToken() (string, error) {
	if c.TokenFile == "" {
		return c.Token, nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
