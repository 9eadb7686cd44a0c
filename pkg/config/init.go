package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration to the default
// location and returns its path. An existing file is only replaced when
// force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path with a
// freshly generated auth token.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
	}

	cfg := GetDefaultConfig()
	cfg.Auth.Token = GenerateToken()

	content, err := generateYAMLWithComments(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file carries the shared secret.
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateToken returns a random 32-character hex token.
func GenerateToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type yamlSection struct {
	comment string
	key     string
	value   map[string]any
}

// generateYAMLWithComments renders cfg as YAML with one comment block per
// section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	sections := []yamlSection{
		{
			comment: "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, or a file path)",
			key:     "logging",
			value: map[string]any{
				"level":  cfg.Logging.Level,
				"format": cfg.Logging.Format,
				"output": cfg.Logging.Output,
			},
		},
		{
			comment: "Maximum time to wait for in-flight requests on shutdown",
			key:     "server",
			value: map[string]any{
				"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
			},
		},
		{
			comment: "Shared secret clients must present. Prefer token_file in production",
			key:     "auth",
			value:   authSection(cfg.Auth),
		},
		{
			comment: "Unix socket. max_connections 1 serves requests strictly one at a time;\n" +
				"timeouts of 0 disable them",
			key: "socket",
			value: map[string]any{
				"path":                   cfg.Socket.Path,
				"mode":                   cfg.Socket.Mode,
				"max_connections":        cfg.Socket.MaxConnections,
				"read_timeout":           cfg.Socket.ReadTimeout.String(),
				"write_timeout":          cfg.Socket.WriteTimeout.String(),
				"max_payload_bytes":      cfg.Socket.MaxPayloadBytes,
				"payload_trailing_grace": cfg.Socket.PayloadTrailingGrace.String(),
				"rate_limit": map[string]any{
					"requests_per_second": cfg.Socket.RateLimit.RequestsPerSecond,
					"burst":               cfg.Socket.RateLimit.Burst,
				},
			},
		},
		{
			comment: "Retention ledger backend: file, memory or badger. Only the section\n" +
				"matching type is used",
			key: "ledger",
			value: map[string]any{
				"type":   cfg.Ledger.Type,
				"file":   cfg.Ledger.File,
				"memory": cfg.Ledger.Memory,
				"badger": cfg.Ledger.Badger,
			},
		},
		{
			comment: "fail_closed refuses deletes when the ledger cannot be read",
			key:     "retention",
			value: map[string]any{
				"fail_closed": cfg.Retention.FailClosed,
			},
		},
		{
			comment: "External programs. Set type to noop to disable one",
			key:     "tools",
			value: map[string]any{
				"label": map[string]any{
					"type":         cfg.Tools.Label.Type,
					"binary":       cfg.Tools.Label.Binary,
					"selinux_type": cfg.Tools.Label.SELinuxType,
					"extra_args":   nonNil(cfg.Tools.Label.ExtraArgs),
				},
				"sync": map[string]any{
					"type":   cfg.Tools.Sync.Type,
					"binary": cfg.Tools.Sync.Binary,
					"args":   nonNil(cfg.Tools.Sync.Args),
				},
			},
		},
		{
			comment: "Permissions of directories and files created by write",
			key:     "files",
			value: map[string]any{
				"dir_mode":  cfg.Files.DirMode,
				"file_mode": cfg.Files.FileMode,
			},
		},
		{
			comment: "Prometheus endpoint (/metrics)",
			key:     "metrics",
			value: map[string]any{
				"enabled": cfg.Metrics.Enabled,
				"port":    cfg.Metrics.Port,
			},
		},
		{
			comment: "Ledger snapshots uploaded to S3. interval 0 uploads only on shutdown;\n" +
				"object_lock_days > 0 requires a bucket with Object Lock enabled",
			key: "archive",
			value: map[string]any{
				"enabled":  cfg.Archive.Enabled,
				"interval": cfg.Archive.Interval.String(),
				"s3":       archiveS3Section(cfg.Archive.S3),
			},
		},
	}

	var b strings.Builder
	b.WriteString("# immutabled configuration file\n")
	b.WriteString("#\n")
	b.WriteString("# Every key can be overridden with an IMMUTABLED_ environment variable,\n")
	b.WriteString("# e.g. IMMUTABLED_LOGGING_LEVEL=DEBUG\n")

	for _, s := range sections {
		out, err := yaml.Marshal(map[string]any{s.key: s.value})
		if err != nil {
			return "", fmt.Errorf("failed to render %s section: %w", s.key, err)
		}
		b.WriteString("\n")
		for _, line := range strings.Split(s.comment, "\n") {
			b.WriteString("# " + line + "\n")
		}
		b.Write(out)
	}

	return b.String(), nil
}

func authSection(a AuthConfig) map[string]any {
	section := map[string]any{"token": a.Token}
	if a.TokenFile != "" {
		section["token_file"] = a.TokenFile
	}
	return section
}

func archiveS3Section(options map[string]any) map[string]any {
	section := map[string]any{
		"region":           "",
		"bucket":           "",
		"endpoint":         "",
		"max_retries":      0,
		"object_lock_days": 0,
	}
	for k, v := range options {
		section[k] = v
	}
	return section
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
