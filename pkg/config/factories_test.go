package config

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/marmos91/immutabled/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLedgerStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  LedgerConfig
	}{
		{"file", LedgerConfig{Type: "file", File: map[string]any{"path": filepath.Join(t.TempDir(), "meta", "retention.db")}}},
		{"memory", LedgerConfig{Type: "memory"}},
		{"badger", LedgerConfig{Type: "badger", Badger: map[string]any{"in_memory": "true"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := CreateLedgerStore(ctx, &tt.cfg, metrics.NewNoopBrokerMetrics())
			require.NoError(t, err)
			defer func() { _ = store.Close() }()

			require.NoError(t, store.Append(ctx, ledger.Record{Path: "/data/a", CreatedAt: 100, Duration: 50}))
			remaining, err := store.Query(ctx, "/data/a", 120)
			require.NoError(t, err)
			assert.Equal(t, int64(30), remaining)

			var buf bytes.Buffer
			require.NoError(t, store.Export(ctx, &buf))
			assert.Equal(t, "/data/a|100|50\n", buf.String())
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		_, err := CreateLedgerStore(ctx, &LedgerConfig{Type: "sqlite"}, nil)
		assert.Error(t, err)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := CreateLedgerStore(ctx, &LedgerConfig{Type: "file", File: map[string]any{}}, nil)
		assert.Error(t, err)
	})
}

func TestCreateAuthenticator(t *testing.T) {
	a, err := CreateAuthenticator(&AuthConfig{Token: "secret"})
	require.NoError(t, err)
	assert.NoError(t, a.Authenticate(&broker.Request{Command: broker.CommandGetRetention, Path: "/x", Token: "secret"}))
	assert.Error(t, a.Authenticate(&broker.Request{Command: broker.CommandGetRetention, Path: "/x", Token: "other"}))

	_, err = CreateAuthenticator(&AuthConfig{})
	assert.Error(t, err)
}

func TestCreateExecutor(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Tools.Label.Type = "noop"
	cfg.Tools.Sync.Type = "noop"

	store := ledger.NewMemoryStore()
	exec, err := CreateExecutor(cfg, store, nil)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "nested", "file.txt")
	resp := exec.Execute(context.Background(), &broker.Request{Command: broker.CommandWrite, Path: target, Payload: []byte("data")})
	require.True(t, resp.OK(), resp.Message)

	cfg.Files.FileMode = "not-octal"
	_, err = CreateExecutor(cfg, store, nil)
	assert.Error(t, err)
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Socket.Path = filepath.Join(t.TempDir(), "b.sock")
	cfg.Server.ShutdownTimeout = 5 * time.Second

	socketCfg, err := SocketAdapterConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), uint32(socketCfg.Mode))
	assert.Equal(t, 5*time.Second, socketCfg.ShutdownTimeout)

	auth, err := CreateAuthenticator(&AuthConfig{Token: "secret"})
	require.NoError(t, err)
	exec, err := CreateExecutor(cfg, ledger.NewMemoryStore(), nil)
	require.NoError(t, err)

	adapters, err := CreateAdapters(cfg, exec, auth, nil)
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Equal(t, "unix", adapters[0].Protocol())
	assert.Equal(t, cfg.Socket.Path, adapters[0].Addr())
}

func TestCreateArchiver(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	a, err := CreateArchiver(ctx, &ArchiveConfig{}, store, nil)
	require.NoError(t, err)
	assert.Nil(t, a, "disabled archive yields no archiver")

	a, err = CreateArchiver(ctx, &ArchiveConfig{
		Enabled:  true,
		Interval: time.Hour,
		S3: map[string]any{
			"region":            "us-east-1",
			"bucket":            "ledger",
			"key_prefix":        "host/",
			"endpoint":          "http://localhost:9000",
			"access_key_id":     "id",
			"secret_access_key": "secret",
		},
	}, store, nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "host/ledger-10.db", a.Key(time.Unix(10, 0)))

	_, err = CreateArchiver(ctx, &ArchiveConfig{Enabled: true, S3: map[string]any{"bucket": "ledger"}}, store, nil)
	assert.Error(t, err)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())
	assert.Nil(t, result.Server)
	assert.NotNil(t, result.BrokerMetrics)
}
