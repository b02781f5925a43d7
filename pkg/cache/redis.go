package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries under "<prefix>:<key>" on a shared client. It
// never closes the client.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "marketlens"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := c.getRaw(ctx, key)
	if err != nil {
		return err
	}
	return decode(raw, dest)
}

func (c *RedisCache) getRaw(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return raw, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Unlink(ctx, full...).Err()
}

// DeleteByPattern walks the keyspace with SCAN and unlinks matches in
// batches, so it never blocks the server the way KEYS would.
func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	const batch = 500
	match := c.key(pattern)
	found := make([]string, 0, batch)

	flush := func() error {
		if len(found) == 0 {
			return nil
		}
		err := c.client.Unlink(ctx, found...).Err()
		found = found[:0]
		return err
	}

	iter := c.client.Scan(ctx, 0, match, batch).Iterator()
	for iter.Next(ctx) {
		found = append(found, iter.Val())
		if len(found) == batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", match, err)
	}
	return flush()
}

var _ Service = (*RedisCache)(nil)
