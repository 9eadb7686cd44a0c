// Package executor performs the five broker operations against the
// filesystem, the retention ledger and the external tools.
//
// The executor is only ever handed authenticated requests; it trusts Path
// and SrcPath as given.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/clock"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/marmos91/immutabled/pkg/metrics"
	"github.com/marmos91/immutabled/pkg/retention"
	"github.com/marmos91/immutabled/pkg/tools"
	"github.com/spf13/afero"
)

// Default permission bits for created files and directories.
const (
	DefaultDirMode  fs.FileMode = 0o755
	DefaultFileMode fs.FileMode = 0o644
)

// Config wires the executor's collaborators. Ledger is required; everything
// else has a default.
type Config struct {
	// Fs is the filesystem operations run against (default: the OS).
	Fs afero.Fs

	// Ledger records retention windows.
	Ledger ledger.Store

	// Guard decides deletes (default: a fail-open guard over Ledger).
	Guard *retention.Guard

	// Labeler marks written files immutable (default: no-op).
	Labeler tools.Labeler

	// Syncer copies trees for the sync command (default: no-op).
	Syncer tools.Syncer

	// Clock stamps ledger records (default: wall clock).
	Clock clock.Clock

	// DirMode is used for parent directories created by write.
	DirMode fs.FileMode

	// FileMode is used for files created by write.
	FileMode fs.FileMode

	// Metrics is optional.
	Metrics metrics.BrokerMetrics
}

// Executor runs authenticated requests.
type Executor struct {
	fs       afero.Fs
	ledger   ledger.Store
	guard    *retention.Guard
	labeler  tools.Labeler
	syncer   tools.Syncer
	clock    clock.Clock
	dirMode  fs.FileMode
	fileMode fs.FileMode
	metrics  metrics.BrokerMetrics
}

// New creates an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("executor: ledger is required")
	}

	e := &Executor{
		fs:       cfg.Fs,
		ledger:   cfg.Ledger,
		guard:    cfg.Guard,
		labeler:  cfg.Labeler,
		syncer:   cfg.Syncer,
		clock:    cfg.Clock,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
		metrics:  metrics.OrNoop(cfg.Metrics),
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.guard == nil {
		e.guard = retention.NewGuard(e.ledger, retention.WithClock(e.clock))
	}
	if e.labeler == nil {
		e.labeler = tools.Noop{}
	}
	if e.syncer == nil {
		e.syncer = tools.Noop{}
	}
	if e.dirMode == 0 {
		e.dirMode = DefaultDirMode
	}
	if e.fileMode == 0 {
		e.fileMode = DefaultFileMode
	}
	return e, nil
}

// Execute runs req and returns exactly one response. It never returns nil.
func (e *Executor) Execute(ctx context.Context, req *broker.Request) *broker.Response {
	switch req.Command {
	case broker.CommandWrite:
		return e.write(ctx, req)
	case broker.CommandDelete:
		return e.delete(ctx, req)
	case broker.CommandSync:
		return e.sync(ctx, req)
	case broker.CommandSetRetention:
		return e.setRetention(ctx, req)
	case broker.CommandGetRetention:
		return e.getRetention(ctx, req)
	default:
		op := req.Command.String()
		return broker.Failure(op, req.Path,
			broker.Errorf(broker.KindProtocol, op, req.Path, "unknown command %d", uint32(req.Command)))
	}
}

func (e *Executor) write(ctx context.Context, req *broker.Request) *broker.Response {
	const op = "write"

	if err := e.fs.MkdirAll(filepath.Dir(req.Path), e.dirMode); err != nil {
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	}

	f, err := e.fs.OpenFile(req.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, e.fileMode)
	if err != nil {
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	}

	n, err := f.Write(req.Payload)
	closeErr := f.Close()
	switch {
	case err != nil:
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	case n != len(req.Payload):
		return broker.Failure(op, req.Path,
			broker.Errorf(broker.KindIO, op, req.Path, "short write: %d of %d bytes", n, len(req.Payload)))
	case closeErr != nil:
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", closeErr))
	}

	logger.Info("Wrote %d bytes to %s", n, req.Path)

	resp := broker.Success(broker.CommandWrite, req.Path)
	resp.Warning = e.label(ctx, req.Path)
	return resp
}

func (e *Executor) delete(ctx context.Context, req *broker.Request) *broker.Response {
	const op = "delete"

	allowed, remaining, _ := e.guard.CanDelete(ctx, req.Path)
	if !allowed {
		e.metrics.RecordRetentionRefusal()
		logger.Warn("Refused delete of %s: %ds of retention remaining", req.Path, remaining)
		if remaining == 0 {
			return broker.Failure(op, req.Path,
				broker.Errorf(broker.KindPolicy, op, req.Path, "retention ledger unavailable"))
		}
		return broker.Failure(op, req.Path,
			broker.Errorf(broker.KindPolicy, op, req.Path, "retention active: %ds remaining", remaining))
	}

	info, err := e.fs.Stat(req.Path)
	if err != nil {
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	}

	if info.IsDir() {
		err = e.fs.RemoveAll(req.Path)
	} else {
		err = e.fs.Remove(req.Path)
	}
	if err != nil {
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	}

	logger.Info("Deleted %s", req.Path)
	return broker.Success(broker.CommandDelete, req.Path)
}

func (e *Executor) sync(ctx context.Context, req *broker.Request) *broker.Response {
	const op = "sync"

	if req.SrcPath == "" || req.Path == "" {
		return broker.Failure(op, req.Path,
			broker.Errorf(broker.KindIO, op, req.Path, "sync requires both source and destination"))
	}

	if err := e.syncer.Sync(ctx, req.SrcPath, req.Path); err != nil {
		logger.Error("Sync %s -> %s failed: %v", req.SrcPath, req.Path, err)
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindExternal, op, req.Path, "", err))
	}

	logger.Info("Synced %s -> %s", req.SrcPath, req.Path)

	resp := broker.Success(broker.CommandSync, req.Path)
	resp.Warning = e.label(ctx, req.Path)
	return resp
}

func (e *Executor) setRetention(ctx context.Context, req *broker.Request) *broker.Response {
	const op = "set-retention"

	if req.Retention < 0 {
		return broker.Failure(op, req.Path,
			broker.Errorf(broker.KindProtocol, op, req.Path, "negative retention duration %d", req.Retention))
	}

	if _, err := e.fs.Stat(req.Path); err != nil {
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	}

	if err := e.guard.Protect(ctx, req.Path, req.Retention); err != nil {
		logger.Error("Failed to record retention for %s: %v", req.Path, err)
		return broker.Failure(op, req.Path, broker.Wrap(broker.KindIO, op, req.Path, "", err))
	}

	rec := ledger.Record{Path: req.Path, CreatedAt: e.clock.Now().Unix(), Duration: req.Retention}
	logger.Info("Retention for %s set to %ds (until %s)", req.Path, req.Retention, formatExpiry(rec.ExpiresAt()))
	return broker.Success(broker.CommandSetRetention, req.Path)
}

// maxFormattedExpiry is 9999-12-31T23:59:59Z, the last instant RFC 3339 can
// express.
const maxFormattedExpiry = 253402300799

func formatExpiry(unix int64) string {
	if unix > maxFormattedExpiry {
		return "after 9999-12-31T23:59:59Z"
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func (e *Executor) getRetention(ctx context.Context, req *broker.Request) *broker.Response {
	return broker.RetentionResponse(req.Path, e.guard.Remaining(ctx, req.Path))
}

// label applies the immutability label and returns a warning on failure.
// The data is already committed, so a label failure never fails the request.
func (e *Executor) label(ctx context.Context, path string) string {
	if err := e.labeler.Label(ctx, path); err != nil {
		e.metrics.RecordLabelFailure()
		logger.Warn("Failed to label %s: %v", path, err)
		return fmt.Sprintf("label failed: %v", err)
	}
	return ""
}
