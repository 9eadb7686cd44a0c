package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

auth:
  token: "secret"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Socket.Path != "/var/run/immutabled.sock" {
		t.Errorf("Expected default socket path, got %q", cfg.Socket.Path)
	}
	if cfg.Socket.Mode != "0600" {
		t.Errorf("Expected default socket mode 0600, got %q", cfg.Socket.Mode)
	}
	if cfg.Socket.MaxConnections != 1 {
		t.Errorf("Expected serialized connections by default, got %d", cfg.Socket.MaxConnections)
	}
	if cfg.Socket.ReadTimeout != 0 || cfg.Socket.WriteTimeout != 0 {
		t.Errorf("Expected no timeouts by default, got read=%v write=%v", cfg.Socket.ReadTimeout, cfg.Socket.WriteTimeout)
	}
	if cfg.Ledger.Type != "file" {
		t.Errorf("Expected default ledger type 'file', got %q", cfg.Ledger.Type)
	}
	if cfg.Ledger.File["path"] != DefaultLedgerFile {
		t.Errorf("Expected default ledger path %q, got %v", DefaultLedgerFile, cfg.Ledger.File["path"])
	}
	if cfg.Retention.FailClosed {
		t.Error("Expected fail-open retention by default")
	}
	if cfg.Tools.Label.Type != "chcon" || cfg.Tools.Label.SELinuxType != "immutable_file_t" {
		t.Errorf("Unexpected label defaults: %+v", cfg.Tools.Label)
	}
	if cfg.Tools.Sync.Type != "rsync" || len(cfg.Tools.Sync.Args) != 2 {
		t.Errorf("Unexpected sync defaults: %+v", cfg.Tools.Sync)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Archive.Enabled {
		t.Error("Expected archive disabled by default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("IMMUTABLED_AUTH_TOKEN", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Auth.Token != "from-env" {
		t.Errorf("Expected token from environment, got %q", cfg.Auth.Token)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Expected validation error without a token")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
auth:
  token: "secret"
retention:
  fail_closed: false
ledger:
  type: memory
`)
	t.Setenv("IMMUTABLED_RETENTION_FAIL_CLOSED", "true")
	t.Setenv("IMMUTABLED_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Retention.FailClosed {
		t.Error("Expected environment to enable fail_closed")
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level DEBUG from environment, got %q", cfg.Logging.Level)
	}
	if cfg.Ledger.Type != "memory" {
		t.Errorf("Expected ledger type memory, got %q", cfg.Ledger.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[auth]
token = "secret"

[socket]
path = "/run/immutabled/broker.sock"
mode = "0660"
max_connections = 4

[ledger]
type = "badger"

[ledger.badger]
db_path = "/var/lib/immutabled/db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Socket.Mode != "0660" || cfg.Socket.MaxConnections != 4 {
		t.Errorf("Unexpected socket section: %+v", cfg.Socket)
	}
	if cfg.Ledger.Type != "badger" {
		t.Errorf("Expected ledger type badger, got %q", cfg.Ledger.Type)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with token", func(*Config) {}, false},
		{"no token", func(c *Config) { c.Auth.Token = "" }, true},
		{"token file only", func(c *Config) { c.Auth.Token = ""; c.Auth.TokenFile = "/etc/immutabled/token" }, false},
		{"token too long", func(c *Config) { c.Auth.Token = string(make([]byte, 128)) }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "TRACE" }, true},
		{"bad socket mode", func(c *Config) { c.Socket.Mode = "rw-------" }, true},
		{"socket mode out of range", func(c *Config) { c.Socket.Mode = "77777" }, true},
		{"socket path too long", func(c *Config) { c.Socket.Path = "/" + string(make([]byte, 120)) }, true},
		{"negative max connections", func(c *Config) { c.Socket.MaxConnections = -1 }, true},
		{"bad dir mode", func(c *Config) { c.Files.DirMode = "0999" }, true},
		{"unknown ledger", func(c *Config) { c.Ledger.Type = "sqlite" }, true},
		{"file ledger without path", func(c *Config) { c.Ledger.File = map[string]any{} }, true},
		{"badger in memory", func(c *Config) {
			c.Ledger.Type = "badger"
			c.Ledger.Badger = map[string]any{"in_memory": true}
		}, false},
		{"badger without path", func(c *Config) {
			c.Ledger.Type = "badger"
			c.Ledger.Badger = map[string]any{}
		}, true},
		{"unknown label tool", func(c *Config) { c.Tools.Label.Type = "setfattr" }, true},
		{"noop tools", func(c *Config) { c.Tools.Label.Type = "noop"; c.Tools.Sync.Type = "noop" }, false},
		{"metrics port out of range", func(c *Config) { c.Metrics.Port = 70000 }, true},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.S3 = map[string]any{"region": "eu-west-1"}
		}, true},
		{"archive configured", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.S3 = map[string]any{"region": "eu-west-1", "bucket": "ledger"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Auth.Token = "secret"
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr && err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestParseFileMode(t *testing.T) {
	mode, err := ParseFileMode("0640")
	if err != nil {
		t.Fatalf("ParseFileMode failed: %v", err)
	}
	if mode != 0o640 {
		t.Errorf("Expected 0640, got %o", mode)
	}

	if _, err := ParseFileMode("644x"); err == nil {
		t.Error("Expected error for non-octal mode")
	}
}

func TestResolveToken(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("  file-secret\n"), 0600); err != nil {
		t.Fatalf("Failed to write token file: %v", err)
	}

	token, err := AuthConfig{Token: "inline", TokenFile: tokenFile}.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	if token != "file-secret" {
		t.Errorf("Expected token from file, got %q", token)
	}

	token, _ = AuthConfig{Token: "inline"}.ResolveToken()
	if token != "inline" {
		t.Errorf("Expected inline token, got %q", token)
	}

	if _, err := (AuthConfig{TokenFile: filepath.Join(t.TempDir(), "missing")}).ResolveToken(); err == nil {
		t.Error("Expected error for missing token file")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	path := GetDefaultConfigPath()
	if path != "/tmp/xdg/immutabled/config.yaml" {
		t.Errorf("Unexpected default config path %q", path)
	}
}
