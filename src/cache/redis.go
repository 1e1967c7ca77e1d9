package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"

	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------------------------------------
// RedisCache keeps the latest tick per source and the latest balance per
// address so other processes can read them without a connection of their own.
// -----------------------------------------------------------------------------

type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	Logger *logger.Logger

	queue chan models.MEvent
}

var _ interfaces.IPriceCache = (*RedisCache)(nil)

// -----------------------------------------------------------------------------

func NewRedisCache(cfg models.MCacheConfig, log *logger.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCacheWithClient(client, cfg, log)
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient, cfg models.MCacheConfig, log *logger.Logger) *RedisCache {
	if log == nil {
		log = logger.NewNopLogger()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cove"
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		Logger: log,
		queue:  make(chan models.MEvent, 1024),
	}
}

// -----------------------------------------------------------------------------

// Ping checks the server is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *RedisCache) tickKey(source string) string {
	return fmt.Sprintf("%s:tick:%s", c.prefix, source)
}

func (c *RedisCache) balanceKey(address string) string {
	return fmt.Sprintf("%s:balance:%s", c.prefix, address)
}

// -----------------------------------------------------------------------------

func (c *RedisCache) SetTick(ctx context.Context, tick models.MPriceTick) error {
	return c.set(ctx, c.tickKey(tick.SourceID), tick)
}

func (c *RedisCache) GetTick(ctx context.Context, source string) (models.MPriceTick, bool, error) {
	var tick models.MPriceTick
	ok, err := c.get(ctx, c.tickKey(source), &tick)
	return tick, ok, err
}

func (c *RedisCache) SetBalance(ctx context.Context, balance models.MAccountBalance) error {
	return c.set(ctx, c.balanceKey(balance.Address), balance)
}

func (c *RedisCache) GetBalance(ctx context.Context, address string) (models.MAccountBalance, bool, error) {
	var balance models.MAccountBalance
	ok, err := c.get(ctx, c.balanceKey(address), &balance)
	return balance, ok, err
}

// -----------------------------------------------------------------------------

func (c *RedisCache) set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) get(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// -----------------------------------------------------------------------------

// Observe queues price and balance events for Run. The queue drops events
// when full so a slow server never blocks the publisher.
func (c *RedisCache) Observe(ev models.MEvent) {
	if ev.Kind != models.EventPrice && ev.Kind != models.EventBalance {
		return
	}
	select {
	case c.queue <- ev:
	default:
		c.Logger.Debug("Cache queue full, dropping %s event from %s", ev.Kind, ev.Source)
	}
}

// Run writes queued events until ctx is done
func (c *RedisCache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.queue:
			c.write(ctx, ev)
		}
	}
}

func (c *RedisCache) write(ctx context.Context, ev models.MEvent) {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var err error
	switch {
	case ev.Tick != nil:
		err = c.SetTick(wctx, *ev.Tick)
	case ev.Balance != nil:
		err = c.SetBalance(wctx, *ev.Balance)
	}
	if err != nil {
		c.Logger.Warning("Cache write failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

func (c *RedisCache) Close() error {
	return c.client.Close()
}
