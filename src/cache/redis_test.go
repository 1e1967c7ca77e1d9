package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"cove-observer/src/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveCache connects to COVE_TEST_REDIS (default localhost:6379) and skips
// when nothing is listening
func liveCache(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("COVE_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	c := NewRedisCache(models.MCacheConfig{Addr: addr, DB: 1, KeyPrefix: "cove-test-" + t.Name(), TTLSeconds: 30}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		c.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKeys(t *testing.T) {
	c := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), models.MCacheConfig{}, nil)
	defer c.Close()

	assert.Equal(t, "cove:tick:Kraken", c.tickKey("Kraken"))
	assert.Equal(t, "cove:balance:rAddr", c.balanceKey("rAddr"))
	assert.Equal(t, 5*time.Minute, c.ttl)
}

func TestUnreachableServerReturnsErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	c := NewRedisCacheWithClient(client, models.MCacheConfig{KeyPrefix: "x"}, nil)
	defer c.Close()

	ctx := context.Background()
	assert.Error(t, c.SetTick(ctx, models.MPriceTick{SourceID: "Kraken"}))
	_, ok, err := c.GetTick(ctx, "Kraken")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestObserveIgnoresOtherEvents(t *testing.T) {
	c := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), models.MCacheConfig{}, nil)
	defer c.Close()

	c.Observe(models.ErrorEvent("Kraken", assert.AnError))
	c.Observe(models.StateEvent(models.EventConnected, "ledger", models.StateConnected))
	assert.Len(t, c.queue, 0)

	c.Observe(models.PriceEvent("Kraken", models.MPriceTick{SourceID: "Kraken"}))
	assert.Len(t, c.queue, 1)
}

func TestRoundTripAgainstServer(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()

	_, ok, err := c.GetTick(ctx, "Kraken")
	require.NoError(t, err)
	assert.False(t, ok)

	tick := models.MPriceTick{SourceID: "Kraken", Timestamp: 1000, Close: 0.61, Bid: models.Float(0.6)}
	require.NoError(t, c.SetTick(ctx, tick))
	got, ok, err := c.GetTick(ctx, "Kraken")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tick.Close, got.Close)
	assert.Equal(t, 0.6, *got.Bid)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(runCtx)
	c.Observe(models.BalanceEvent("rAddr", models.MAccountBalance{Address: "rAddr", AmountMinorUnits: 42}))

	assert.Eventually(t, func() bool {
		b, ok, err := c.GetBalance(ctx, "rAddr")
		return err == nil && ok && b.AmountMinorUnits == 42
	}, 2*time.Second, 10*time.Millisecond)
}
