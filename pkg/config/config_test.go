package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercache/pkg/ledger/ledgertest"
	"ledgercache/pkg/ledgercache"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "ledgercache_records", cfg.Store.Table)
	assert.Equal(t, 20*time.Second, cfg.Pool.Timeout)
	assert.Equal(t, 8, cfg.Dispatcher.MaxInflight)
	assert.Equal(t, int64(86400), cfg.Purge.MinFresh)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEDGERCACHE_STORE", "SQLite")
	t.Setenv("LEDGERCACHE_STORE_DSN", "/tmp/cache.db")
	t.Setenv("LEDGERCACHE_MAX_INFLIGHT", "2")
	t.Setenv("LEDGERCACHE_REPLY_FRESHNESS", "5m")
	t.Setenv("LEDGERCACHE_PURGE_MIN_FRESH", "-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/cache.db", cfg.Store.DSN)
	assert.Equal(t, 2, cfg.Dispatcher.MaxInflight)
	assert.Equal(t, 5*time.Minute, cfg.Pool.ReplyFreshness)
	assert.Equal(t, int64(-1), cfg.Purge.MinFresh)
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "LEDGERCACHE_STORE=redis\nLEDGERCACHE_REDIS_PREFIX=test:\nLOG_FORMAT=text\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGERCACHE_STORE")
		os.Unsetenv("LEDGERCACHE_REDIS_PREFIX")
		os.Unsetenv("LOG_FORMAT")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "test:", cfg.Store.RedisPrefix)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("LEDGERCACHE_MAX_INFLIGHT", "many")
	t.Setenv("LEDGERCACHE_POOL_TIMEOUT", "soon")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Dispatcher.MaxInflight)
	assert.Equal(t, 20*time.Second, cfg.Pool.Timeout)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Store:      StoreConfig{Backend: "cassandra"},
		Pool:       PoolConfig{Timeout: 0},
		Dispatcher: DispatcherConfig{MaxInflight: 0},
		Purge:      PurgeConfig{MinFresh: -2},
		Log:        LogConfig{Format: "xml"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"unknown LEDGERCACHE_STORE",
		"LEDGERCACHE_MAX_INFLIGHT",
		"LEDGERCACHE_POOL_TIMEOUT",
		"LEDGERCACHE_PURGE_MIN_FRESH",
		"unknown LOG_FORMAT",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRequiresDSN(t *testing.T) {
	for _, backend := range []string{StoreSQLite, StoreMySQL, StorePostgres} {
		cfg := &Config{
			Store:      StoreConfig{Backend: backend},
			Pool:       PoolConfig{Timeout: time.Second},
			Dispatcher: DispatcherConfig{MaxInflight: 1},
			Log:        LogConfig{Format: "json"},
		}
		err := cfg.Validate()
		require.Error(t, err, backend)
		assert.Contains(t, err.Error(), "LEDGERCACHE_STORE_DSN", backend)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", slog.Int("wallet", 3))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, float64(3), line["wallet"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Level: "info", Format: "text"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestOpenWalletMemory(t *testing.T) {
	wallet, closeFn, err := OpenWallet(context.Background(), StoreConfig{Backend: StoreMemory})
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &ledgercache.InMemoryWallet{}, wallet)
}

func TestOpenWalletSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := StoreConfig{
		Backend: StoreSQLite,
		DSN:     filepath.Join(t.TempDir(), "wallet.db"),
		Table:   "records",
	}

	wallet, closeFn, err := OpenWallet(ctx, cfg)
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, wallet.Put(ctx, 1, "cache_schema:a", []byte("v1")))
	value, ok, err := wallet.Get(ctx, 1, "cache_schema:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), value)
}

func TestOpenWalletUnknownBackend(t *testing.T) {
	_, _, err := OpenWallet(context.Background(), StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestBuildWithCustomTransport(t *testing.T) {
	net := ledgertest.New(4)
	schemaID := net.WriteSchema(ledgertest.DID("issuer"), "degree", "1.0", "name")

	cfg := &Config{
		Store:      StoreConfig{Backend: StoreMemory},
		Pool:       PoolConfig{Timeout: time.Second},
		Dispatcher: DispatcherConfig{MaxInflight: 2},
		Log:        LogConfig{Format: "json"},
	}
	logger := NewLogger(cfg.Log, &bytes.Buffer{})

	stack, err := Build(context.Background(), cfg, logger, WithTransport(net, net.VerKeys()))
	require.NoError(t, err)
	defer stack.Close()

	type outcome struct {
		payload []byte
		err     error
	}
	done := make(chan outcome, 2)
	cb := func(_ ledgercache.CommandHandle, payload []byte, err error) {
		done <- outcome{payload, err}
	}

	for i := 0; i < 2; i++ {
		_, err = stack.Client.GetSchema(stack.Pool, 1, ledgertest.DID("submitter"), schemaID, "", cb)
		require.NoError(t, err)
		got := <-done
		require.NoError(t, got.err)
		assert.Contains(t, string(got.payload), `"name":"degree"`)
	}
	assert.Equal(t, 1, net.Submits(), "second read should be served from cache")
}

func TestBuildRequiresGenesis(t *testing.T) {
	cfg := &Config{
		Store:      StoreConfig{Backend: StoreMemory},
		Pool:       PoolConfig{Timeout: time.Second},
		Dispatcher: DispatcherConfig{MaxInflight: 1},
	}
	_, err := Build(context.Background(), cfg, NewLogger(cfg.Log, &bytes.Buffer{}))
	assert.ErrorContains(t, err, "LEDGERCACHE_GENESIS_FILE")
}
