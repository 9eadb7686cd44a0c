// Package badger implements ledger.Store on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/immutabled/pkg/ledger"
)

// sequenceBandwidth is how many sequence numbers are leased per disk write.
const sequenceBandwidth = 128

// StoreConfig configures a BadgerDB ledger.
type StoreConfig struct {
	// DBPath is the directory where BadgerDB keeps its files.
	DBPath string `mapstructure:"db_path" validate:"required_unless=InMemory true"`

	// SyncWrites makes every commit durable before Append returns.
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 16)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 8)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// InMemory runs BadgerDB without touching disk. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`
}

// Store is a BadgerDB-backed ledger.
//
// Each Append writes the record under a fresh sequence key and moves the
// per-path index to it in one transaction. Appends are serialized so that
// commit order matches sequence order and the index always names the last
// appended record.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	appendMu sync.Mutex
}

// NewStore opens (or creates) a BadgerDB ledger.
func NewStore(ctx context.Context, config StoreConfig) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(config.SyncWrites)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 16
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 8
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence(keyRecordSequence, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open record sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, rec ledger.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ledger.ValidatePath(rec.Path); err != nil {
		return err
	}

	value, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate record sequence: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyRecord(n), value); err != nil {
			return err
		}
		return txn.Set(keyPath(rec.Path), encodeSeq(n))
	})
	if err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	return nil
}

// Lookup implements ledger.Store.
func (s *Store) Lookup(ctx context.Context, path string) (ledger.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, false, err
	}

	var (
		rec   ledger.Record
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPath(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var n uint64
		if err := item.Value(func(val []byte) error {
			var ok bool
			if n, ok = decodeSeq(val); !ok {
				return fmt.Errorf("corrupt path index for %q", path)
			}
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(keyRecord(n))
		if err != nil {
			return fmt.Errorf("path index for %q points at missing record %d: %w", path, n, err)
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			if err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("failed to read ledger: %w", err)
	}
	return rec, found, nil
}

// Query implements ledger.Store.
func (s *Store) Query(ctx context.Context, path string, now int64) (int64, error) {
	return ledger.QueryRecord(ctx, s, path, now)
}

// Export implements ledger.Store.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, rec.String())
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release record sequence: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close BadgerDB: %w", err))
	}
	return errors.Join(errs...)
}
