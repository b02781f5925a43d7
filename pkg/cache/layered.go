package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// invalidation is broadcast on every delete so other replicas drop the
// same entries from their in-process layer.
type invalidation struct {
	Origin  string   `json:"origin"`
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// LayeredCache reads through an in-process LRU to Redis and writes
// through to both. In-process entries live at most the layer TTL, and
// deletes are broadcast over Redis pub/sub to the other replicas.
type LayeredCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	l1TTL   time.Duration
	channel string
	origin  string

	sub  *redis.PubSub
	wg   sync.WaitGroup
	once sync.Once
}

// NewLayeredCache subscribes to the invalidation channel before returning.
func NewLayeredCache(ctx context.Context, l2 *RedisCache, opts ...LayeredOption) (*LayeredCache, error) {
	cfg := layeredConfig{memorySize: 1000, memoryTTL: 30 * time.Second, channel: l2.key("invalidate")}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := l2.client.Subscribe(ctx, cfg.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.channel, err)
	}

	lc := &LayeredCache{
		l1:      NewMemoryCache(WithMemoryMaxSize(cfg.memorySize)),
		l2:      l2,
		l1TTL:   cfg.memoryTTL,
		channel: cfg.channel,
		origin:  uuid.NewString(),
		sub:     sub,
	}
	lc.wg.Add(1)
	go lc.listen()
	return lc, nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if raw, ok := lc.l1.getRaw(key); ok {
		return decode(raw, dest)
	}
	raw, err := lc.l2.getRaw(ctx, key)
	if err != nil {
		return err
	}
	lc.l1.setRaw(key, raw, lc.l1TTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.l2.client.Set(ctx, lc.l2.key(key), raw, ttl).Err(); err != nil {
		return err
	}
	l1 := lc.l1TTL
	if ttl > 0 && ttl < l1 {
		l1 = ttl
	}
	lc.l1.setRaw(key, raw, l1)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	if err := lc.l2.Delete(ctx, keys...); err != nil {
		return err
	}
	return lc.broadcast(ctx, invalidation{Keys: keys})
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	if err := lc.l1.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	if err := lc.l2.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	return lc.broadcast(ctx, invalidation{Pattern: pattern})
}

// Close stops listening and releases the in-process layer. The Redis
// client stays open.
func (lc *LayeredCache) Close() error {
	var err error
	lc.once.Do(func() {
		err = lc.sub.Close()
		lc.wg.Wait()
		_ = lc.l1.Close()
	})
	return err
}

func (lc *LayeredCache) broadcast(ctx context.Context, msg invalidation) error {
	msg.Origin = lc.origin
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := lc.l2.client.Publish(ctx, lc.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

func (lc *LayeredCache) listen() {
	defer lc.wg.Done()
	ctx := context.Background()
	for m := range lc.sub.Channel() {
		var inv invalidation
		if err := json.Unmarshal([]byte(m.Payload), &inv); err != nil || inv.Origin == lc.origin {
			continue
		}
		if inv.Pattern != "" {
			_ = lc.l1.DeleteByPattern(ctx, inv.Pattern)
		}
		if len(inv.Keys) > 0 {
			_ = lc.l1.Delete(ctx, inv.Keys...)
		}
	}
}

var _ Service = (*LayeredCache)(nil)
