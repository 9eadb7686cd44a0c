package ledger

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps the ledger in process memory. Records do not survive a
// restart, so it is only suitable for tests and throwaway deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	latest  map[string]int
	closed  bool
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]int)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
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
	s.records = append(s.records, rec)
	s.latest[rec.Path] = len(s.records) - 1
	return nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(ctx context.Context, path string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, false, ErrClosed
	}
	i, ok := s.latest[path]
	if !ok {
		return Record{}, false, nil
	}
	return s.records[i], true, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, path string, now int64) (int64, error) {
	return QueryRecord(ctx, s, path, now)
}

// Export implements Store.
func (s *MemoryStore) Export(ctx context.Context, w io.Writer) error {
	s.mu.RLock()
	records := make([]Record, len(s.records))
	copy(records, s.records)
	s.mu.RUnlock()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, rec.String()); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
