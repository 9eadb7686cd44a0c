package retention

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/marmos91/immutabled/pkg/clock"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{ ledger.Store }

var errBroken = errors.New("disk on fire")

func (brokenStore) Query(context.Context, string, int64) (int64, error) { return 0, errBroken }
func (brokenStore) Append(context.Context, ledger.Record) error          { return errBroken }
func (brokenStore) Export(context.Context, io.Writer) error              { return errBroken }
func (brokenStore) Close() error                                         { return nil }

func TestGuardWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeUnix(1000)
	g := NewGuard(ledger.NewMemoryStore(), WithClock(clk))

	allowed, _, err := g.CanDelete(ctx, "/tmp/a.txt")
	require.NoError(t, err)
	assert.True(t, allowed, "no record means no retention")

	require.NoError(t, g.Protect(ctx, "/tmp/a.txt", 100))

	clk.Advance(50 * time.Second)
	allowed, remaining, err := g.CanDelete(ctx, "/tmp/a.txt")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(50), remaining)
	assert.Equal(t, int64(50), g.Remaining(ctx, "/tmp/a.txt"))

	clk.Advance(50 * time.Second)
	allowed, remaining, err = g.CanDelete(ctx, "/tmp/a.txt")
	require.NoError(t, err)
	assert.True(t, allowed, "window closes at created+duration")
	assert.Equal(t, int64(0), remaining)
}

func TestGuardFailOpen(t *testing.T) {
	g := NewGuard(brokenStore{})

	allowed, _, err := g.CanDelete(context.Background(), "/tmp/a.txt")
	assert.ErrorIs(t, err, errBroken)
	assert.True(t, allowed)
	assert.Equal(t, int64(0), g.Remaining(context.Background(), "/tmp/a.txt"))
}

func TestGuardFailClosed(t *testing.T) {
	g := NewGuard(brokenStore{}, WithFailClosed(true))

	allowed, _, err := g.CanDelete(context.Background(), "/tmp/a.txt")
	assert.ErrorIs(t, err, errBroken)
	assert.False(t, allowed)
}
