package gallery

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camrate-server-go/internal/platform/config"
)

func TestNewCache_Drivers(t *testing.T) {
	c, err := NewCache(config.CacheConfig{Driver: ""})
	require.NoError(t, err)
	assert.IsType(t, noopCache{}, c)

	c, err = NewCache(config.CacheConfig{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memoryCache{}, c)

	_, err = NewCache(config.CacheConfig{Driver: "memcached"})
	assert.Error(t, err)

	_, err = NewCache(config.CacheConfig{Driver: DriverRedis})
	assert.Error(t, err)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := newMemoryCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, []byte(`[]`)))
	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(got))

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx)
	assert.False(t, ok)
}

func TestRedisCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewCache(config.CacheConfig{
		Driver: DriverRedis,
		TTL:    time.Second,
		Redis:  config.RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, []byte(`[{"filename":"a.jpg"}]`)))
	assert.True(t, mr.Exists("test:listing"))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"filename":"a.jpg"}]`, string(got))

	mr.FastForward(2 * time.Second)
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, []byte(`[]`)))
	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists("test:listing"))
}

func TestRedisCache_UnreachableServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewCache(config.CacheConfig{Driver: DriverRedis, Redis: config.RedisConfig{Addr: addr}})
	assert.Error(t, err)
}
