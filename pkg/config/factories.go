package config

import (
	"context"
	"fmt"

	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/archive"
	"github.com/marmos91/immutabled/pkg/auth"
	"github.com/marmos91/immutabled/pkg/executor"
	"github.com/marmos91/immutabled/pkg/ledger"
	ledgerBadger "github.com/marmos91/immutabled/pkg/ledger/badger"
	"github.com/marmos91/immutabled/pkg/metrics"
	"github.com/marmos91/immutabled/pkg/retention"
	"github.com/marmos91/immutabled/pkg/tools"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// decodeOptions decodes a backend option map into out. Weak typing lets
// environment overrides ("true", "16") land in typed fields.
func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return validate.Struct(out)
}

// decodeLedgerOptions decodes and validates the option map of the selected
// ledger backend. The memory backend has no options and yields nil.
func decodeLedgerOptions(cfg *LedgerConfig) (any, error) {
	switch cfg.Type {
	case "file":
		var fileCfg ledger.FileStoreConfig
		if err := decodeOptions(cfg.File, &fileCfg); err != nil {
			return nil, formatValidationError(err)
		}
		return fileCfg, nil
	case "badger":
		var badgerCfg ledgerBadger.StoreConfig
		if err := decodeOptions(cfg.Badger, &badgerCfg); err != nil {
			return nil, formatValidationError(err)
		}
		return badgerCfg, nil
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %q (supported: file, memory, badger)", cfg.Type)
	}
}

func decodeS3Options(options map[string]any) (archive.S3Config, error) {
	var s3Cfg archive.S3Config
	if err := decodeOptions(options, &s3Cfg); err != nil {
		return s3Cfg, formatValidationError(err)
	}
	return s3Cfg, nil
}

// CreateLedgerStore creates the retention ledger selected by cfg.Ledger.Type.
//
// Supported types:
//   - "file": line-oriented text ledger compatible with existing retention.db files
//   - "memory": in-process ledger, lost on restart (development only)
//   - "badger": BadgerDB-backed ledger
//
// The store is wrapped with metrics instrumentation when m is non-nil.
func CreateLedgerStore(ctx context.Context, cfg *LedgerConfig, m metrics.BrokerMetrics) (ledger.Store, error) {
	options, err := decodeLedgerOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger.%s: %w", cfg.Type, err)
	}

	var store ledger.Store
	switch opts := options.(type) {
	case ledger.FileStoreConfig:
		fileStore, err := ledger.NewFileStore(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create file ledger: %w", err)
		}
		logger.Info("Retention ledger: file %s", fileStore.Path())
		store = fileStore
	case ledgerBadger.StoreConfig:
		badgerStore, err := ledgerBadger.NewStore(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger ledger: %w", err)
		}
		logger.Info("Retention ledger: badger %s", opts.DBPath)
		store = badgerStore
	default:
		logger.Warn("Retention ledger: memory (records are lost on restart)")
		store = ledger.NewMemoryStore()
	}

	if m != nil {
		store = metrics.InstrumentLedger(store, m)
	}
	return store, nil
}

// CreateAuthenticator resolves the configured secret into an Authenticator.
func CreateAuthenticator(cfg *AuthConfig) (*auth.Authenticator, error) {
	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("auth: token is empty")
	}
	return auth.New(token), nil
}

// CreateExecutor builds the request executor over store and the real
// filesystem, with the configured tools and retention policy.
func CreateExecutor(cfg *Config, store ledger.Store, m metrics.BrokerMetrics) (*executor.Executor, error) {
	labeler, err := tools.NewLabeler(cfg.Tools.Label)
	if err != nil {
		return nil, err
	}
	syncer, err := tools.NewSyncer(cfg.Tools.Sync)
	if err != nil {
		return nil, err
	}

	dirMode, err := ParseFileMode(cfg.Files.DirMode)
	if err != nil {
		return nil, fmt.Errorf("files.dir_mode: %w", err)
	}
	fileMode, err := ParseFileMode(cfg.Files.FileMode)
	if err != nil {
		return nil, fmt.Errorf("files.file_mode: %w", err)
	}

	if cfg.Retention.FailClosed {
		logger.Info("Retention guard is fail-closed: deletes are refused when the ledger is unreadable")
	}

	return executor.New(executor.Config{
		Fs:       afero.NewOsFs(),
		Ledger:   store,
		Guard:    retention.NewGuard(store, retention.WithFailClosed(cfg.Retention.FailClosed)),
		Labeler:  labeler,
		Syncer:   syncer,
		DirMode:  dirMode,
		FileMode: fileMode,
		Metrics:  m,
	})
}

// CreateArchiver builds the S3 ledger archiver, or returns nil when
// archiving is disabled.
func CreateArchiver(ctx context.Context, cfg *ArchiveConfig, store ledger.Store, m metrics.BrokerMetrics) (*archive.Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	s3Cfg, err := decodeS3Options(cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("archive.s3: %w", err)
	}

	client, err := archive.NewS3Client(ctx, s3Cfg)
	if err != nil {
		return nil, err
	}

	a, err := archive.New(store, archive.Config{
		Client:         client,
		Bucket:         s3Cfg.Bucket,
		KeyPrefix:      s3Cfg.KeyPrefix,
		Interval:       cfg.Interval,
		ObjectLockDays: s3Cfg.ObjectLockDays,
		Metrics:        m,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Ledger archive: bucket=%s region=%s prefix=%s interval=%s",
		s3Cfg.Bucket, s3Cfg.Region, s3Cfg.KeyPrefix, cfg.Interval)
	return a, nil
}
