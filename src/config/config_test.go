package config

import (
	"os"
	"path/filepath"
	"testing"

	"cove-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("name: test\nport: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Name)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, models.DefaultEndpointID, cfg.Ledger.Network)
	assert.Equal(t, 2000, cfg.Ledger.InitialRetryDelayMs)
	assert.Equal(t, 30000, cfg.Ledger.MaxRetryDelayMs)
	assert.Equal(t, 10, cfg.Balance.PollIntervalSeconds)
	assert.Equal(t, 3, cfg.Balance.MaxRetries)
	assert.Equal(t, models.DefaultReserveDrops, cfg.Balance.ReserveDrops)
	assert.Equal(t, 1000, cfg.Exchanges.HistoryCapacity)
	assert.Equal(t, "Bitfinex", cfg.Exchanges.ActiveSource)
	assert.Len(t, cfg.Exchanges.Sources, 3)
}

func TestParseRejectsUnknownNetwork(t *testing.T) {
	_, err := Parse([]byte("ledger:\n  network: nowhere\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ledger network")
}

func TestParseValidatesCustomEndpoints(t *testing.T) {
	good := `
ledger:
  network: local
  custom_endpoints:
    - id: local
      display_name: Local rippled
      url: ws://127.0.0.1:6006
      kind: custom
`
	cfg, err := Parse([]byte(good))
	require.NoError(t, err)
	ep, err := cfg.SelectedEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:6006", ep.URL)

	bad := `
ledger:
  custom_endpoints:
    - id: broken
      display_name: Broken
      url: http://127.0.0.1:6006
      kind: custom
`
	_, err = Parse([]byte(bad))
	require.Error(t, err)
}

func TestParseRejectsUnknownSourceType(t *testing.T) {
	doc := `
exchanges:
  sources:
    - name: Foo
      type: coinbase
      enabled: true
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COVE_NETWORK", "devnet-ripple")
	t.Setenv("COVE_WATCH_ADDRESSES", "rA, rB ,")
	t.Setenv("COVE_REDIS_ADDR", "redis:6379")

	cfg, err := Parse([]byte("name: env\n"))
	require.NoError(t, err)
	assert.Equal(t, "devnet-ripple", cfg.Ledger.Network)
	assert.Equal(t, []string{"rA", "rB"}, cfg.Balance.WatchAddresses)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
}

func TestSaveRoundTripsThroughNewConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := Default()
	cfg.Port = 9100
	require.NoError(t, cfg.Save(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, loaded.Port)
}

func TestDefaultConfigFileLoads(t *testing.T) {
	cfg, err := NewConfig(filepath.Join("..", "..", "config", "default.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 50051, cfg.GrpcPort)
	assert.Equal(t, []string{"ledger"}, cfg.Ledger.Streams)
}
