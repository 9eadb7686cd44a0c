package metrics

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/immutabled/pkg/ledger"
)

// InstrumentLedger wraps store so that every call is reported through m.
// A nil m returns store unchanged.
func InstrumentLedger(store ledger.Store, m BrokerMetrics) ledger.Store {
	if m == nil {
		return store
	}
	return &instrumentedLedger{store: store, m: m}
}

type instrumentedLedger struct {
	store ledger.Store
	m     BrokerMetrics
}

func (l *instrumentedLedger) Append(ctx context.Context, rec ledger.Record) error {
	start := time.Now()
	err := l.store.Append(ctx, rec)
	l.m.RecordLedgerOperation("append", time.Since(start), err)
	return err
}

func (l *instrumentedLedger) Query(ctx context.Context, path string, now int64) (int64, error) {
	start := time.Now()
	rem, err := l.store.Query(ctx, path, now)
	l.m.RecordLedgerOperation("query", time.Since(start), err)
	return rem, err
}

func (l *instrumentedLedger) Lookup(ctx context.Context, path string) (ledger.Record, bool, error) {
	start := time.Now()
	rec, ok, err := l.store.Lookup(ctx, path)
	l.m.RecordLedgerOperation("lookup", time.Since(start), err)
	return rec, ok, err
}

func (l *instrumentedLedger) Export(ctx context.Context, w io.Writer) error {
	start := time.Now()
	err := l.store.Export(ctx, w)
	l.m.RecordLedgerOperation("export", time.Since(start), err)
	return err
}

func (l *instrumentedLedger) Close() error {
	return l.store.Close()
}
