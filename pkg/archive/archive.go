// Package archive ships point-in-time copies of the retention ledger to S3.
//
// Each snapshot is the ledger's text export stored under
// <prefix>ledger-<unix>.db, so an archived object can be dropped in place of
// a local ledger file. When ObjectLockDays is set the object is written in
// COMPLIANCE mode and cannot be removed before the ledger's own retention
// would allow it.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/clock"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/marmos91/immutabled/pkg/metrics"
)

// DefaultShutdownTimeout bounds the final snapshot taken when Run stops.
const DefaultShutdownTimeout = 30 * time.Second

// PutObjectAPI is the subset of *s3.Client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures an Archiver.
type Config struct {
	Client    PutObjectAPI
	Bucket    string
	KeyPrefix string

	// Interval between snapshots. 0 disables periodic uploads; a snapshot is
	// still taken when Run returns.
	Interval time.Duration

	// ObjectLockDays, when positive, places a COMPLIANCE retention of that many
	// days on every uploaded object. The bucket must have Object Lock enabled.
	ObjectLockDays int

	ShutdownTimeout time.Duration
	Clock           clock.Clock
	Metrics         metrics.BrokerMetrics
}

// Archiver uploads ledger snapshots.
type Archiver struct {
	store  ledger.Store
	config Config
}

// New creates an Archiver for store.
func New(store ledger.Store, cfg Config) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("archive: ledger store is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("archive: S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("archive: negative interval %s", cfg.Interval)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	cfg.Metrics = metrics.OrNoop(cfg.Metrics)

	return &Archiver{store: store, config: cfg}, nil
}

// Key returns the object key used for a snapshot taken at t.
func (a *Archiver) Key(t time.Time) string {
	return fmt.Sprintf("%sledger-%d.db", a.config.KeyPrefix, t.Unix())
}

// Snapshot exports the ledger and uploads it, returning the object key.
func (a *Archiver) Snapshot(ctx context.Context) (string, error) {
	start := time.Now()
	now := a.config.Clock.Now()
	key := a.Key(now)

	var buf bytes.Buffer
	if err := a.store.Export(ctx, &buf); err != nil {
		a.config.Metrics.RecordArchiveUpload(time.Since(start), 0, err)
		return "", fmt.Errorf("export ledger: %w", err)
	}
	size := int64(buf.Len())

	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("text/plain"),
	}
	if a.config.ObjectLockDays > 0 {
		input.ObjectLockMode = types.ObjectLockModeCompliance
		input.ObjectLockRetainUntilDate = aws.Time(now.AddDate(0, 0, a.config.ObjectLockDays).UTC())
	}

	_, err := a.config.Client.PutObject(ctx, input)
	a.config.Metrics.RecordArchiveUpload(time.Since(start), size, err)
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", a.config.Bucket, key, err)
	}

	logger.Debug("Archived ledger to s3://%s/%s (%d bytes)", a.config.Bucket, key, size)
	return key, nil
}

// Run takes a snapshot every Interval until ctx is cancelled, then takes a
// final one. Upload failures are logged and never stop the loop.
func (a *Archiver) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if a.config.Interval > 0 {
		ticker := time.NewTicker(a.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	logger.Info("Ledger archiver started: bucket=%s prefix=%q interval=%s",
		a.config.Bucket, a.config.KeyPrefix, a.config.Interval)

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
			defer cancel()
			if _, err := a.Snapshot(final); err != nil {
				logger.Error("Final ledger archive failed: %v", err)
				return err
			}
			logger.Info("Ledger archiver stopped")
			return nil
		case <-tick:
			if _, err := a.Snapshot(ctx); err != nil {
				logger.Warn("Ledger archive failed: %v", err)
			}
		}
	}
}
