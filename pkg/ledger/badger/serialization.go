package badger

import (
	"bytes"
	"fmt"

	"github.com/marmos91/immutabled/pkg/ledger"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Records are stored XDR-encoded: the layout is fixed, compact and
// self-delimiting, and the encoder is already part of the dependency set.

// xdrRecord is the on-disk record layout.
type xdrRecord struct {
	Path      string
	CreatedAt int64
	Duration  int64
}

func encodeRecord(rec ledger.Record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &xdrRecord{Path: rec.Path, CreatedAt: rec.CreatedAt, Duration: rec.Duration}); err != nil {
		return nil, fmt.Errorf("failed to encode ledger record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (ledger.Record, error) {
	var r xdrRecord
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &r); err != nil {
		return ledger.Record{}, fmt.Errorf("failed to decode ledger record: %w", err)
	}
	return ledger.Record{Path: r.Path, CreatedAt: r.CreatedAt, Duration: r.Duration}, nil
}
