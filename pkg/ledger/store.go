// Package ledger records retention windows.
//
// The ledger is append-only: set-retention adds a record and nothing ever
// rewrites or removes one. When a path has several records the most recently
// appended one wins, so a retention window can be shortened as well as
// extended.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned by Append for paths the text encoding cannot
// represent: empty paths and paths containing the field separator or a line
// break.
var ErrInvalidPath = errors.New("ledger: path cannot be recorded")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("ledger: store closed")

// fieldSep separates the fields of a text record.
const fieldSep = "|"

// Record is one retention entry.
type Record struct {
	// Path is the file path exactly as it appeared in the request.
	Path string

	// CreatedAt is the Unix time (seconds) at which the record was appended.
	CreatedAt int64

	// Duration is the retention window length in seconds.
	Duration int64
}

// ExpiresAt is the Unix time at which the window closes, clamped to
// math.MaxInt64 for windows that reach past it.
func (r Record) ExpiresAt() int64 {
	return addSat(r.CreatedAt, r.Duration)
}

// Remaining returns the seconds left in the window at now, never negative.
// A clock behind CreatedAt yields more than Duration. The arithmetic
// saturates instead of wrapping.
func (r Record) Remaining(now int64) int64 {
	if rem := subSat(r.Duration, subSat(now, r.CreatedAt)); rem > 0 {
		return rem
	}
	return 0
}

func addSat(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0:
		return math.MinInt64
	}
	return s
}

func subSat(a, b int64) int64 {
	if b == math.MinInt64 {
		if a >= 0 {
			return math.MaxInt64
		}
		return a - b
	}
	return addSat(a, -b)
}

// String encodes r as a single ledger line without the trailing newline.
func (r Record) String() string {
	return r.Path + fieldSep + strconv.FormatInt(r.CreatedAt, 10) + fieldSep + strconv.FormatInt(r.Duration, 10)
}

// Store is the retention ledger.
//
// Implementations must be safe for concurrent use. Append must be durable
// enough that a subsequent Query from any goroutine observes it.
type Store interface {
	// Append adds rec to the ledger. It returns ErrInvalidPath for paths
	// that cannot be recorded.
	Append(ctx context.Context, rec Record) error

	// Query returns the seconds of retention remaining for path at now.
	// A path with no record has 0 remaining. An unreadable ledger is an
	// error; callers decide whether that blocks anything.
	Query(ctx context.Context, path string, now int64) (int64, error)

	// Lookup returns the winning record for path.
	Lookup(ctx context.Context, path string) (Record, bool, error)

	// Export writes every record in append order, one line each, in the
	// text encoding.
	Export(ctx context.Context, w io.Writer) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// ValidatePath reports whether path can be recorded.
func ValidatePath(path string) error {
	if path == "" || strings.ContainsAny(path, fieldSep+"\n\r") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

// ParseRecord decodes one ledger line. Lines that do not have exactly three
// fields with integer timestamps are rejected.
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(line, fieldSep)
	if len(parts) != 3 || parts[0] == "" {
		return Record{}, fmt.Errorf("malformed ledger line %q", line)
	}

	created, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("malformed ledger line %q: created: %w", line, err)
	}
	duration, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("malformed ledger line %q: duration: %w", line, err)
	}

	return Record{Path: parts[0], CreatedAt: created, Duration: duration}, nil
}

// QueryRecord is the Query implementation shared by backends that can look
// up a single record.
func QueryRecord(ctx context.Context, s interface {
	Lookup(ctx context.Context, path string) (Record, bool, error)
}, path string, now int64) (int64, error) {
	rec, ok, err := s.Lookup(ctx, path)
	if err != nil || !ok {
		return 0, err
	}
	return rec.Remaining(now), nil
}
