package ledger_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/immutabled/pkg/ledger"
	ledgertest "github.com/marmos91/immutabled/pkg/ledger/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &ledgertest.StoreTestSuite{
		NewStore: func(t *testing.T) ledger.Store {
			return ledger.NewMemoryStore()
		},
	}
	suite.Run(t)
}

func TestFileStore(t *testing.T) {
	suite := &ledgertest.StoreTestSuite{
		NewStore: func(t *testing.T) ledger.Store {
			s, err := ledger.NewFileStore(ledger.FileStoreConfig{Path: filepath.Join(t.TempDir(), "retention.db")})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestFileStoreFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "retention.db")
	s, err := ledger.NewFileStore(ledger.FileStoreConfig{Path: path, SyncWrites: true})
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "ledger file is created lazily")

	require.NoError(t, s.Append(context.Background(), ledger.Record{Path: "/tmp/a.txt", CreatedAt: 1700000000, Duration: 3600}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.txt|1700000000|3600\n", string(data))
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.db")
	content := "garbage\n" +
		"/tmp/a.txt|1000|100\n" +
		"/tmp/a.txt|notanumber|5\n" +
		"/tmp/b.txt|1000\n" +
		"/tmp/a.txt|10" // torn trailing write
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := ledger.NewFileStore(ledger.FileStoreConfig{Path: path})
	require.NoError(t, err)

	rem, err := s.Query(context.Background(), "/tmp/a.txt", 1050)
	require.NoError(t, err)
	assert.Equal(t, int64(50), rem)

	rem, err = s.Query(context.Background(), "/tmp/b.txt", 1050)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rem)
}

func TestFileStoreSharedAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.db")
	a, err := ledger.NewFileStore(ledger.FileStoreConfig{Path: path})
	require.NoError(t, err)
	b, err := ledger.NewFileStore(ledger.FileStoreConfig{Path: path})
	require.NoError(t, err)

	require.NoError(t, a.Append(context.Background(), ledger.Record{Path: "/x", CreatedAt: 0, Duration: 10}))
	rem, err := b.Query(context.Background(), "/x", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rem)
}

func TestClosedStore(t *testing.T) {
	s := ledger.NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.Append(context.Background(), ledger.Record{Path: "/x", Duration: 1})
	assert.ErrorIs(t, err, ledger.ErrClosed)
	_, err = s.Query(context.Background(), "/x", 0)
	assert.ErrorIs(t, err, ledger.ErrClosed)
}

func TestRecordRemaining(t *testing.T) {
	r := ledger.Record{Path: "/x", CreatedAt: 100, Duration: 50}
	assert.Equal(t, int64(50), r.Remaining(100))
	assert.Equal(t, int64(0), r.Remaining(150))
	assert.Equal(t, int64(0), r.Remaining(10_000))
	assert.Equal(t, int64(60), r.Remaining(90), "clock behind creation still yields a bounded value")
}

func TestRecordRemainingSaturates(t *testing.T) {
	forever := ledger.Record{Path: "/x", CreatedAt: 1000, Duration: math.MaxInt64}
	assert.Equal(t, int64(math.MaxInt64), forever.Remaining(999), "clock stepped back")
	assert.Equal(t, int64(math.MaxInt64), forever.Remaining(1000))
	assert.Equal(t, int64(math.MaxInt64-1), forever.Remaining(1001))
	assert.Equal(t, int64(math.MaxInt64), forever.ExpiresAt())

	r := ledger.Record{Path: "/y", CreatedAt: 1000, Duration: 50}
	assert.Equal(t, int64(math.MaxInt64), r.Remaining(math.MinInt64))
	assert.Equal(t, int64(0), r.Remaining(math.MaxInt64))
}

func TestParseRecord(t *testing.T) {
	rec, err := ledger.ParseRecord("/tmp/a b.txt|1|2")
	require.NoError(t, err)
	assert.Equal(t, ledger.Record{Path: "/tmp/a b.txt", CreatedAt: 1, Duration: 2}, rec)

	for _, line := range []string{"", "|1|2", "/a|1", "/a|1|2|3", "/a|x|2", "/a|1|y"} {
		_, err := ledger.ParseRecord(line)
		assert.Error(t, err, line)
	}
}
