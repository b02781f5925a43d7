package cache

import (
	"container/list"
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

type memEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process LRU cache with per-entry expiry.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	maxSize    int
	defaultTTL time.Duration

	stop chan struct{}
	once sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := memoryConfig{maxSize: 1000, janitor: 5 * time.Minute, defaultTTL: 24 * time.Hour}
	for _, opt := range opts {
		opt(&cfg)
	}
	mc := &MemoryCache{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		maxSize:    cfg.maxSize,
		defaultTTL: cfg.defaultTTL,
		stop:       make(chan struct{}),
	}
	go mc.sweep(cfg.janitor)
	return mc
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := mc.getRaw(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(raw, dest)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	mc.setRaw(key, raw, ttl)
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.items[k]; ok {
			mc.remove(el)
		}
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for k, el := range mc.items {
		if ok, _ := path.Match(pattern, k); ok {
			mc.remove(el)
		}
	}
	return nil
}

// Len counts stored entries, expired ones not yet swept included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lru.Len()
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) getRaw(key string) ([]byte, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if time.Now().After(e.expires) {
		mc.remove(el)
		return nil, false
	}
	mc.lru.MoveToFront(el)
	return e.value, true
}

func (mc *MemoryCache) setRaw(key string, raw []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}
	expires := time.Now().Add(ttl)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if el, ok := mc.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value, e.expires = raw, expires
		mc.lru.MoveToFront(el)
		return
	}
	mc.items[key] = mc.lru.PushFront(&memEntry{key: key, value: raw, expires: expires})
	for mc.lru.Len() > mc.maxSize {
		mc.remove(mc.lru.Back())
	}
}

// remove drops el; the caller holds mu.
func (mc *MemoryCache) remove(el *list.Element) {
	mc.lru.Remove(el)
	delete(mc.items, el.Value.(*memEntry).key)
}

func (mc *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case now := <-ticker.C:
			mc.mu.Lock()
			for el := mc.lru.Back(); el != nil; {
				prev := el.Prev()
				if now.After(el.Value.(*memEntry).expires) {
					mc.remove(el)
				}
				el = prev
			}
			mc.mu.Unlock()
		}
	}
}

var _ Service = (*MemoryCache)(nil)
