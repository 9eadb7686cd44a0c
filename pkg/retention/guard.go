// Package retention decides whether a file may be deleted.
package retention

import (
	"context"

	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/clock"
	"github.com/marmos91/immutabled/pkg/ledger"
)

// Guard consults the ledger before a delete.
type Guard struct {
	ledger     ledger.Store
	clock      clock.Clock
	failClosed bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithFailClosed makes the guard refuse deletes when the ledger cannot be
// read. By default an unreadable ledger is treated as "no retention".
func WithFailClosed(failClosed bool) Option {
	return func(g *Guard) { g.failClosed = failClosed }
}

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// NewGuard creates a Guard over store.
func NewGuard(store ledger.Store, opts ...Option) *Guard {
	g := &Guard{ledger: store, clock: clock.Real()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanDelete reports whether path has no active retention window.
//
// remaining is the number of seconds left when deletion is refused. A
// ledger read error is logged and returned; whether it allows the delete
// depends on WithFailClosed.
func (g *Guard) CanDelete(ctx context.Context, path string) (allowed bool, remaining int64, err error) {
	remaining, err = g.ledger.Query(ctx, path, g.clock.Now().Unix())
	if err != nil {
		if g.failClosed {
			logger.Warn("Retention ledger unreadable, refusing delete of %s: %v", path, err)
			return false, 0, err
		}
		logger.Warn("Retention ledger unreadable, allowing delete of %s: %v", path, err)
		return true, 0, err
	}
	return remaining == 0, remaining, nil
}

// Remaining returns the seconds of retention left on path, or 0 when the
// ledger cannot be read.
func (g *Guard) Remaining(ctx context.Context, path string) int64 {
	remaining, err := g.ledger.Query(ctx, path, g.clock.Now().Unix())
	if err != nil {
		logger.Warn("Retention ledger unreadable, reporting 0 for %s: %v", path, err)
		return 0
	}
	return remaining
}

// Protect records a retention window of duration seconds for path, starting
// now.
func (g *Guard) Protect(ctx context.Context, path string, duration int64) error {
	return g.ledger.Append(ctx, ledger.Record{
		Path:      path,
		CreatedAt: g.clock.Now().Unix(),
		Duration:  duration,
	})
}
