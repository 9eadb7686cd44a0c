package testing

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the ledger.Store contract. It is shared by every
// backend.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &ledgertest.StoreTestSuite{
//	        NewStore: func(t *testing.T) ledger.Store {
//	            return mystore.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store. The suite closes it.
	NewStore func(t *testing.T) ledger.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Query_Missing", suite.testQueryMissing)
	t.Run("Query_Active", suite.testQueryActive)
	t.Run("Query_Expired", suite.testQueryExpired)
	t.Run("Query_ZeroDuration", suite.testQueryZeroDuration)
	t.Run("LastAppendWins", suite.testLastAppendWins)
	t.Run("Lookup", suite.testLookup)
	t.Run("InvalidPath", suite.testInvalidPath)
	t.Run("PathsAreExact", suite.testPathsAreExact)
	t.Run("Export", suite.testExport)
	t.Run("ConcurrentAppends", suite.testConcurrentAppends)
}

func (suite *StoreTestSuite) store(t *testing.T) ledger.Store {
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testContext() context.Context {
	return context.Background()
}

func mustAppend(t *testing.T, s ledger.Store, path string, created, duration int64) {
	t.Helper()
	require.NoError(t, s.Append(testContext(), ledger.Record{Path: path, CreatedAt: created, Duration: duration}))
}

func mustQuery(t *testing.T, s ledger.Store, path string, now int64) int64 {
	t.Helper()
	rem, err := s.Query(testContext(), path, now)
	require.NoError(t, err)
	return rem
}

func (suite *StoreTestSuite) testQueryMissing(t *testing.T) {
	s := suite.store(t)
	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp/none", 1000))
}

func (suite *StoreTestSuite) testQueryActive(t *testing.T) {
	s := suite.store(t)
	mustAppend(t, s, "/tmp/a.txt", 1000, 100)

	assert.Equal(t, int64(100), mustQuery(t, s, "/tmp/a.txt", 1000))
	assert.Equal(t, int64(50), mustQuery(t, s, "/tmp/a.txt", 1050))
	assert.Equal(t, int64(1), mustQuery(t, s, "/tmp/a.txt", 1099))
}

func (suite *StoreTestSuite) testQueryExpired(t *testing.T) {
	s := suite.store(t)
	mustAppend(t, s, "/tmp/a.txt", 1000, 100)

	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp/a.txt", 1100))
	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp/a.txt", 5000))
}

func (suite *StoreTestSuite) testQueryZeroDuration(t *testing.T) {
	s := suite.store(t)
	mustAppend(t, s, "/tmp/a.txt", 1000, 0)
	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp/a.txt", 1000))
}

func (suite *StoreTestSuite) testLastAppendWins(t *testing.T) {
	s := suite.store(t)
	mustAppend(t, s, "/tmp/a.txt", 1000, 1000)
	mustAppend(t, s, "/tmp/a.txt", 1010, 10)

	assert.Equal(t, int64(5), mustQuery(t, s, "/tmp/a.txt", 1015), "a later, shorter window replaces the earlier one")

	mustAppend(t, s, "/tmp/a.txt", 1020, 500)
	assert.Equal(t, int64(490), mustQuery(t, s, "/tmp/a.txt", 1030))
}

func (suite *StoreTestSuite) testLookup(t *testing.T) {
	s := suite.store(t)

	_, ok, err := s.Lookup(testContext(), "/tmp/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	mustAppend(t, s, "/tmp/a.txt", 1000, 100)
	mustAppend(t, s, "/tmp/b.txt", 2000, 200)

	rec, ok, err := s.Lookup(testContext(), "/tmp/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.Record{Path: "/tmp/a.txt", CreatedAt: 1000, Duration: 100}, rec)
	assert.Equal(t, int64(1100), rec.ExpiresAt())
}

func (suite *StoreTestSuite) testInvalidPath(t *testing.T) {
	s := suite.store(t)

	for _, p := range []string{"", "/tmp/a|b", "/tmp/a\nb"} {
		err := s.Append(testContext(), ledger.Record{Path: p, CreatedAt: 1, Duration: 1})
		assert.ErrorIs(t, err, ledger.ErrInvalidPath, "%q", p)
	}
}

func (suite *StoreTestSuite) testPathsAreExact(t *testing.T) {
	s := suite.store(t)
	mustAppend(t, s, "/tmp/a.txt", 1000, 100)

	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp//a.txt", 1000))
	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp/a.tx", 1000))
	assert.Equal(t, int64(0), mustQuery(t, s, "/tmp/a.txt2", 1000))
}

func (suite *StoreTestSuite) testExport(t *testing.T) {
	s := suite.store(t)
	mustAppend(t, s, "/tmp/a.txt", 1000, 100)
	mustAppend(t, s, "/tmp/b.txt", 1001, 50)
	mustAppend(t, s, "/tmp/a.txt", 1002, 7)

	var buf bytes.Buffer
	require.NoError(t, s.Export(testContext(), &buf))
	assert.Equal(t, "/tmp/a.txt|1000|100\n/tmp/b.txt|1001|50\n/tmp/a.txt|1002|7\n", buf.String())
}

func (suite *StoreTestSuite) testConcurrentAppends(t *testing.T) {
	s := suite.store(t)

	const (
		workers = 16
		perWork = 25
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWork; i++ {
				path := fmt.Sprintf("/tmp/w%d/f%d", w, i)
				assert.NoError(t, s.Append(testContext(), ledger.Record{Path: path, CreatedAt: 1000, Duration: int64(i + 1)}))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWork; i++ {
			path := fmt.Sprintf("/tmp/w%d/f%d", w, i)
			assert.Equal(t, int64(i+1), mustQuery(t, s, path, 1000), path)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, s.Export(testContext(), &buf))

	lines := 0
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		_, err := ledger.ParseRecord(scanner.Text())
		require.NoError(t, err, "every line must be a complete record")
		lines++
	}
	assert.Equal(t, workers*perWork, lines)
}
