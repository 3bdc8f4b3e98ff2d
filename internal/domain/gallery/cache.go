package gallery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

// Cache drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverNone   = "none"
)

const listingKey = "listing"

// Cache holds the serialized listing between directory scans.
type Cache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, data []byte) error
	Invalidate(ctx context.Context) error
	Close() error
}

// NewCache selects a cache implementation from configuration.
func NewCache(cfg config.CacheConfig) (Cache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	switch cfg.Driver {
	case "", DriverNone:
		return noopCache{}, nil
	case DriverMemory:
		return newMemoryCache(ttl), nil
	case DriverRedis:
		return newRedisCache(cfg.Redis, ttl)
	default:
		return nil, fmt.Errorf("unsupported gallery cache driver: %s", cfg.Driver)
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context) ([]byte, bool, error) { return nil, false, nil }
func (noopCache) Set(context.Context, []byte) error         { return nil }
func (noopCache) Invalidate(context.Context) error          { return nil }
func (noopCache) Close() error                              { return nil }

type memoryCache struct {
	mu      sync.RWMutex
	data    []byte
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	return &memoryCache{ttl: ttl, now: time.Now}
}

func (c *memoryCache) Get(context.Context) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || c.now().After(c.expires) {
		return nil, false, nil
	}
	return c.data, true, nil
}

func (c *memoryCache) Set(_ context.Context, data []byte) error {
	c.mu.Lock()
	c.data = data
	c.expires = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Close() error { return nil }

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	key    string
}

func newRedisCache(cfg config.RedisConfig, ttl time.Duration) (*redisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "camrate:gallery:"
	}
	return &redisCache{client: client, ttl: ttl, key: prefix + listingKey}, nil
}

func (c *redisCache) Get(ctx context.Context) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

func (c *redisCache) Set(ctx context.Context, data []byte) error {
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *redisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

func (c *redisCache) Close() error { return c.client.Close() }

// CachedLister serves the listing from cache and rescans on miss.
type CachedLister struct {
	lister *Lister
	cache  Cache
	logger *logging.Logger
}

func NewCachedLister(lister *Lister, cache Cache, logger *logging.Logger) *CachedLister {
	return &CachedLister{lister: lister, cache: cache, logger: logger}
}

// List never fails because of the cache; cache errors are logged and the
// directory is scanned instead.
func (c *CachedLister) List(ctx context.Context) ([]Item, error) {
	raw, ok, err := c.cache.Get(ctx)
	if err != nil {
		c.logger.WarnTag("图库", "读取缓存失败: %v", err)
	}
	if ok {
		var items []Item
		if err := sonic.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
		c.logger.WarnTag("图库", "缓存内容损坏，重新扫描")
	}

	items, err := c.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, err := sonic.Marshal(items); err == nil {
		if err := c.cache.Set(ctx, encoded); err != nil {
			c.logger.WarnTag("图库", "写入缓存失败: %v", err)
		}
	}
	return items, nil
}

// Invalidate drops the cached listing.
func (c *CachedLister) Invalidate(ctx context.Context) {
	if err := c.cache.Invalidate(ctx); err != nil {
		c.logger.WarnTag("图库", "清除缓存失败: %v", err)
	}
}

func (c *CachedLister) Close() error { return c.cache.Close() }
