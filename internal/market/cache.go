package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PriceCache holds recent quotes. Get reports found=false for missing or
// expired entries.
type PriceCache interface {
	Get(ctx context.Context, symbol string) (Quote, bool, error)
	Set(ctx context.Context, q Quote, ttl time.Duration) error
}

type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	quote     Quote
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memoryEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, symbol string) (Quote, bool, error) {
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok {
		return Quote{}, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.items, symbol)
		c.mu.Unlock()
		return Quote{}, false, nil
	}
	return e.quote, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, q Quote, ttl time.Duration) error {
	e := memoryEntry{quote: q}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[q.Symbol] = e
	c.mu.Unlock()
	return nil
}

type RedisCache struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCache(opt *redis.Options, prefix string) *RedisCache {
	return &RedisCache{Client: redis.NewClient(opt), Prefix: prefix}
}

func (c *RedisCache) key(symbol string) string {
	return c.Prefix + "price:" + symbol
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (Quote, bool, error) {
	b, err := c.Client.Get(ctx, c.key(symbol)).Bytes()
	if err == redis.Nil {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, err
	}
	var q Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return Quote{}, false, err
	}
	return q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, q Quote, ttl time.Duration) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.key(q.Symbol), b, ttl).Err()
}
