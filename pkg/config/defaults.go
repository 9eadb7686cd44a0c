package config

import (
	"strings"
	"time"

	"github.com/marmos91/immutabled/pkg/adapter/socket"
	"github.com/marmos91/immutabled/pkg/tools"
)

// Default locations.
const (
	DefaultLedgerDir   = "/var/lib/immutabled"
	DefaultLedgerFile  = DefaultLedgerDir + "/retention.db"
	DefaultBadgerDir   = DefaultLedgerDir + "/ledger"
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend option maps get every backend's defaults so that a generated
//     config file documents all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applySocketDefaults(&cfg.Socket)
	applyLedgerDefaults(&cfg.Ledger)
	applyToolsDefaults(&cfg.Tools)
	applyFilesDefaults(&cfg.Files)
	applyMetricsDefaults(&cfg.Metrics)
	applyArchiveDefaults(&cfg.Archive)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applySocketDefaults(cfg *SocketConfig) {
	if cfg.Path == "" {
		cfg.Path = socket.DefaultPath
	}
	if cfg.Mode == "" {
		cfg.Mode = "0600"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = socket.DefaultMaxConnections
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = socket.DefaultMaxPayloadBytes
	}
	if cfg.PayloadTrailingGrace == 0 {
		cfg.PayloadTrailingGrace = socket.DefaultPayloadTrailingGrace
	}
	// ReadTimeout and WriteTimeout stay 0: no timeout.
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = DefaultLedgerFile
	}
	if _, ok := cfg.File["sync_writes"]; !ok {
		cfg.File["sync_writes"] = true
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = DefaultBadgerDir
	}
	if _, ok := cfg.Badger["sync_writes"]; !ok {
		cfg.Badger["sync_writes"] = true
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Label.Type == "" {
		cfg.Label.Type = tools.TypeChcon
	}
	if cfg.Label.Binary == "" {
		cfg.Label.Binary = tools.DefaultLabelBinary
	}
	if cfg.Label.SELinuxType == "" {
		cfg.Label.SELinuxType = tools.DefaultLabelType
	}

	if cfg.Sync.Type == "" {
		cfg.Sync.Type = tools.TypeRsync
	}
	if cfg.Sync.Binary == "" {
		cfg.Sync.Binary = tools.DefaultSyncBinary
	}
	if cfg.Sync.Args == nil {
		cfg.Sync.Args = append([]string(nil), tools.DefaultSyncArgs...)
	}
}

func applyFilesDefaults(cfg *FilesConfig) {
	if cfg.DirMode == "" {
		cfg.DirMode = "0755"
	}
	if cfg.FileMode == "" {
		cfg.FileMode = "0644"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if _, ok := cfg.S3["key_prefix"]; !ok {
		cfg.S3["key_prefix"] = "immutabled/"
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// The result has no auth token and therefore does not validate on its own;
// InitConfig generates one.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
