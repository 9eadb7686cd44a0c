package executor

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/clock"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/marmos91/immutabled/pkg/retention"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLabeler struct {
	labeled []string
	err     error
}

func (f *fakeLabeler) Label(_ context.Context, path string) error {
	f.labeled = append(f.labeled, path)
	return f.err
}

type fakeSyncer struct {
	calls [][2]string
	err   error
}

func (f *fakeSyncer) Sync(_ context.Context, src, dst string) error {
	f.calls = append(f.calls, [2]string{src, dst})
	return f.err
}

type env struct {
	fs      afero.Fs
	clock   *clock.Fake
	ledger  ledger.Store
	labeler *fakeLabeler
	syncer  *fakeSyncer
	exec    *Executor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		fs:      afero.NewMemMapFs(),
		clock:   clock.NewFakeUnix(1_700_000_000),
		ledger:  ledger.NewMemoryStore(),
		labeler: &fakeLabeler{},
		syncer:  &fakeSyncer{},
	}
	var err error
	e.exec, err = New(Config{
		Fs:      e.fs,
		Ledger:  e.ledger,
		Labeler: e.labeler,
		Syncer:  e.syncer,
		Clock:   e.clock,
	})
	require.NoError(t, err)
	return e
}

func (e *env) run(req *broker.Request) *broker.Response {
	return e.exec.Execute(context.Background(), req)
}

func (e *env) write(t *testing.T, path, data string) {
	t.Helper()
	resp := e.run(&broker.Request{Command: broker.CommandWrite, Path: path, Payload: []byte(data)})
	require.True(t, resp.OK(), resp.Message)
}

func (e *env) setRetention(t *testing.T, path string, d int64) {
	t.Helper()
	resp := e.run(&broker.Request{Command: broker.CommandSetRetention, Path: path, Retention: d})
	require.True(t, resp.OK(), resp.Message)
}

func (e *env) remaining(t *testing.T, path string) int64 {
	t.Helper()
	resp := e.run(&broker.Request{Command: broker.CommandGetRetention, Path: path})
	require.True(t, resp.OK())
	require.NotNil(t, resp.Remaining)
	return *resp.Remaining
}

func TestWrite(t *testing.T) {
	e := newEnv(t)

	e.write(t, "/data/nested/dir/a.txt", "hello")

	data, err := afero.ReadFile(e.fs, "/data/nested/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, []string{"/data/nested/dir/a.txt"}, e.labeler.labeled)

	info, err := e.fs.Stat("/data/nested/dir")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteTruncates(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "a much longer first version")
	e.write(t, "/tmp/a.txt", "short")

	data, err := afero.ReadFile(e.fs, "/tmp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestWriteEmptyPayload(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/empty", "")

	info, err := e.fs.Stat("/tmp/empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestWriteLabelFailureIsWarning(t *testing.T) {
	e := newEnv(t)
	e.labeler.err = errors.New("exit status 1")

	resp := e.run(&broker.Request{Command: broker.CommandWrite, Path: "/tmp/a.txt", Payload: []byte("x")})
	require.True(t, resp.OK())
	assert.Contains(t, resp.Warning, "label failed")

	exists, err := afero.Exists(e.fs, "/tmp/a.txt")
	require.NoError(t, err)
	assert.True(t, exists, "data stays committed")
}

func TestWriteIntoReadOnlyFs(t *testing.T) {
	e := newEnv(t)
	exec, err := New(Config{Fs: afero.NewReadOnlyFs(e.fs), Ledger: e.ledger})
	require.NoError(t, err)

	resp := exec.Execute(context.Background(), &broker.Request{Command: broker.CommandWrite, Path: "/tmp/a.txt", Payload: []byte("x")})
	assert.False(t, resp.OK())
	assert.Equal(t, broker.KindIO, resp.Kind)
}

func TestDeleteWithoutRetention(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "x")

	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	require.True(t, resp.OK(), resp.Message)

	exists, _ := afero.Exists(e.fs, "/tmp/a.txt")
	assert.False(t, exists)
}

func TestDeleteDirectoryRecursively(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tree/a/b.txt", "x")
	e.write(t, "/tree/c.txt", "y")

	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tree"})
	require.True(t, resp.OK(), resp.Message)

	exists, _ := afero.Exists(e.fs, "/tree/a/b.txt")
	assert.False(t, exists)
}

func TestDeleteMissing(t *testing.T) {
	e := newEnv(t)
	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/none"})
	assert.False(t, resp.OK())
	assert.Equal(t, broker.KindIO, resp.Kind)
}

func TestRetentionBlocksDelete(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "keep me")
	e.setRetention(t, "/tmp/a.txt", 100)

	e.clock.Advance(50 * time.Second)
	assert.Equal(t, int64(50), e.remaining(t, "/tmp/a.txt"))

	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	require.False(t, resp.OK())
	assert.Equal(t, broker.KindPolicy, resp.Kind)
	assert.Contains(t, resp.Message, "50s remaining")

	data, err := afero.ReadFile(e.fs, "/tmp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data), "refused delete leaves the file untouched")

	e.clock.Advance(50 * time.Second)
	assert.Equal(t, int64(0), e.remaining(t, "/tmp/a.txt"))

	resp = e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	require.True(t, resp.OK(), resp.Message)
}

func TestRetentionLastWriteWins(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "x")
	e.setRetention(t, "/tmp/a.txt", 10_000)
	e.setRetention(t, "/tmp/a.txt", 10)

	assert.Equal(t, int64(10), e.remaining(t, "/tmp/a.txt"))

	e.clock.Advance(10 * time.Second)
	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	assert.True(t, resp.OK(), "shortened window has expired")
}

func TestRetentionIsPerExactPath(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "x")
	e.setRetention(t, "/tmp/a.txt", 100)

	assert.Equal(t, int64(0), e.remaining(t, "/tmp//a.txt"))
	assert.Equal(t, int64(0), e.remaining(t, "/tmp/never-set"))
}

func TestSetRetentionErrors(t *testing.T) {
	e := newEnv(t)

	resp := e.run(&broker.Request{Command: broker.CommandSetRetention, Path: "/tmp/missing", Retention: 10})
	assert.Equal(t, broker.KindIO, resp.Kind)

	e.write(t, "/tmp/a.txt", "x")
	resp = e.run(&broker.Request{Command: broker.CommandSetRetention, Path: "/tmp/a.txt", Retention: -1})
	assert.Equal(t, broker.KindProtocol, resp.Kind)

	e.write(t, "/tmp/a|b", "x")
	resp = e.run(&broker.Request{Command: broker.CommandSetRetention, Path: "/tmp/a|b", Retention: 10})
	assert.Equal(t, broker.KindIO, resp.Kind, "ledger cannot encode the separator")
}

func TestSetRetentionZero(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "x")
	e.setRetention(t, "/tmp/a.txt", 0)

	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	assert.True(t, resp.OK())
}

func TestSetRetentionMaxDuration(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/tmp/a.txt", "x")
	e.setRetention(t, "/tmp/a.txt", math.MaxInt64)

	e.clock.SetUnix(1_699_999_999)
	assert.Equal(t, int64(math.MaxInt64), e.remaining(t, "/tmp/a.txt"))

	resp := e.run(&broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	assert.False(t, resp.OK())
	assert.Equal(t, broker.KindPolicy, resp.Kind)
}

func TestFormatExpiry(t *testing.T) {
	assert.Equal(t, "2023-11-14T22:13:20Z", formatExpiry(1_700_000_000))
	assert.Equal(t, "9999-12-31T23:59:59Z", formatExpiry(maxFormattedExpiry))
	assert.Equal(t, "after 9999-12-31T23:59:59Z", formatExpiry(math.MaxInt64))
}

func TestSync(t *testing.T) {
	e := newEnv(t)

	resp := e.run(&broker.Request{Command: broker.CommandSync, Path: "/backup", SrcPath: "/data/"})
	require.True(t, resp.OK(), resp.Message)
	assert.Equal(t, [][2]string{{"/data/", "/backup"}}, e.syncer.calls)
	assert.Equal(t, []string{"/backup"}, e.labeler.labeled)
}

func TestSyncErrors(t *testing.T) {
	e := newEnv(t)

	resp := e.run(&broker.Request{Command: broker.CommandSync, Path: "/backup"})
	assert.Equal(t, broker.KindIO, resp.Kind)
	assert.Empty(t, e.syncer.calls)

	e.syncer.err = errors.New("exit status 23")
	resp = e.run(&broker.Request{Command: broker.CommandSync, Path: "/backup", SrcPath: "/data"})
	assert.Equal(t, broker.KindExternal, resp.Kind)
	assert.Empty(t, e.labeler.labeled, "no label after a failed sync")
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	resp := e.run(&broker.Request{Command: broker.Command(42), Path: "/tmp/a"})
	assert.False(t, resp.OK())
	assert.Equal(t, broker.KindProtocol, resp.Kind)
}

type brokenLedger struct{ ledger.Store }

func (brokenLedger) Query(context.Context, string, int64) (int64, error) {
	return 0, errors.New("unreadable")
}
func (brokenLedger) Export(context.Context, io.Writer) error { return nil }

func TestUnreadableLedger(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tmp/a.txt", []byte("x"), 0o644))

	// Fail-open: delete proceeds, get-retention reports 0.
	exec, err := New(Config{Fs: fs, Ledger: brokenLedger{}})
	require.NoError(t, err)
	resp := exec.Execute(context.Background(), &broker.Request{Command: broker.CommandGetRetention, Path: "/tmp/a.txt"})
	require.True(t, resp.OK())
	assert.Equal(t, int64(0), *resp.Remaining)

	// Fail-closed: delete is refused.
	closed, err := New(Config{Fs: fs, Ledger: brokenLedger{}, Guard: retention.NewGuard(brokenLedger{}, retention.WithFailClosed(true))})
	require.NoError(t, err)
	resp = closed.Execute(context.Background(), &broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	assert.Equal(t, broker.KindPolicy, resp.Kind)

	resp = exec.Execute(context.Background(), &broker.Request{Command: broker.CommandDelete, Path: "/tmp/a.txt"})
	assert.True(t, resp.OK(), resp.Message)
}

func TestNewRequiresLedger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
