package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "test"), mr
}

func newTestLayered(t *testing.T, l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	t.Helper()
	lc, err := NewLayeredCache(context.Background(), l2, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lc.Close() })
	return lc
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", sample{Name: "n", Count: 3}, time.Minute))
	assert.True(t, mr.Exists("test:k"))

	var got sample
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, sample{Name: "n", Count: 3}, got)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestRedisCache_Delete(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx))
	assert.Equal(t, []string{"test:b"}, mr.Keys())
}

func TestRedisCache_DeleteByPattern(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"report:v1:Accessory", "report:v3:Accessory:days=7:2024-03-08", "report:v1:Weapon"} {
		require.NoError(t, c.Set(ctx, k, "x", time.Minute))
	}

	require.NoError(t, c.DeleteByPattern(ctx, "report:v*:Accessory"))
	require.NoError(t, c.DeleteByPattern(ctx, "report:v*:Accessory:*"))

	assert.Equal(t, []string{"test:report:v1:Weapon"}, mr.Keys())
}

func TestLayeredCache_ReadThrough(t *testing.T) {
	rc, mr := newTestRedis(t)
	lc := newTestLayered(t, rc, WithLayeredMemoryTTL(time.Second))
	ctx := context.Background()

	require.NoError(t, lc.Set(ctx, "k", sample{Name: "l"}, time.Minute))
	mr.Del("test:k")

	var got sample
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "l", got.Name)

	require.NoError(t, lc.DeleteByPattern(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestLayeredCache_FillsMemoryFromRedis(t *testing.T) {
	rc, mr := newTestRedis(t)
	lc := newTestLayered(t, rc)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:k", `{"name":"r","count":1}`))
	var got sample
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, sample{Name: "r", Count: 1}, got)
	assert.Equal(t, 1, lc.l1.Len())
}

func TestLayeredCache_InvalidatesOtherReplicas(t *testing.T) {
	rc, _ := newTestRedis(t)
	a := newTestLayered(t, rc, WithLayeredMemoryTTL(time.Minute))
	b := newTestLayered(t, rc, WithLayeredMemoryTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "report:v1:Knife", "x", time.Minute))
	var s string
	require.NoError(t, b.Get(ctx, "report:v1:Knife", &s))
	require.Equal(t, 1, b.l1.Len())

	require.NoError(t, a.DeleteByPattern(ctx, "report:v*:Knife"))
	require.Eventually(t, func() bool { return b.l1.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.Get(ctx, "report:v1:Knife", &s), ErrCacheMiss)
}
