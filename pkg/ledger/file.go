package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// maxLineSize bounds a single ledger line while scanning. A record holds a
// path shorter than 4096 bytes plus two integers, so anything longer is
// corrupt.
const maxLineSize = 64 * 1024

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Path of the ledger file. It is created on the first append.
	Path string `mapstructure:"path" validate:"required"`

	// SyncWrites fsyncs the ledger after every append.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// FileStore is a line-oriented text ledger: one "path|created|duration"
// record per line, appended with O_APPEND.
//
// Appends are serialized by an in-process mutex and guarded against other
// processes with an exclusive flock; readers take a shared flock. Lines that
// fail to parse are skipped, so a torn trailing line after a crash only
// loses that one record.
type FileStore struct {
	path       string
	syncWrites bool

	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a FileStore. The parent directory is created if it
// does not exist; the ledger file itself is not.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileStore{path: cfg.Path, syncWrites: cfg.SyncWrites}, nil
}

// Path returns the ledger file path.
func (s *FileStore) Path() string {
	return s.path
}

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePath(rec.Path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = flock(f, unix.LOCK_UN) }()

	if _, err := f.WriteString(rec.String() + "\n"); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	if s.syncWrites {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("failed to sync ledger: %w", err)
		}
	}
	return nil
}

// Lookup implements Store. The last record for path in file order wins.
func (s *FileStore) Lookup(ctx context.Context, path string) (Record, bool, error) {
	var (
		found Record
		ok    bool
	)
	err := s.scan(ctx, func(rec Record) error {
		if rec.Path == path {
			found, ok = rec, true
		}
		return nil
	})
	return found, ok, err
}

// Query implements Store.
func (s *FileStore) Query(ctx context.Context, path string, now int64) (int64, error) {
	return QueryRecord(ctx, s, path, now)
}

// Export implements Store. Malformed lines are not exported.
func (s *FileStore) Export(ctx context.Context, w io.Writer) error {
	return s.scan(ctx, func(rec Record) error {
		_, err := fmt.Fprintln(w, rec.String())
		return err
	})
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// scan calls fn for every parseable record in file order. A missing ledger
// file holds no records.
func (s *FileStore) scan(ctx context.Context, fn func(Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_SH); err != nil {
		return err
	}
	defer func() { _ = flock(f, unix.LOCK_UN) }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		rec, err := ParseRecord(scanner.Text())
		if err != nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	return nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
}
