package cache

import "time"

type memoryConfig struct {
	maxSize    int
	janitor    time.Duration
	defaultTTL time.Duration
}

// MemoryOption configures MemoryCache.
type MemoryOption func(*memoryConfig)

// WithMemoryMaxSize bounds the entry count; the least recently used entry
// goes first.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithMemoryCleanup sets how often expired entries are swept.
func WithMemoryCleanup(every time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if every > 0 {
			c.janitor = every
		}
	}
}

type layeredConfig struct {
	memorySize int
	memoryTTL  time.Duration
	channel    string
}

// LayeredOption configures LayeredCache.
type LayeredOption func(*layeredConfig)

func WithLayeredMemorySize(n int) LayeredOption {
	return func(c *layeredConfig) {
		if n > 0 {
			c.memorySize = n
		}
	}
}

// WithLayeredMemoryTTL caps how long the in-process layer keeps an entry.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *layeredConfig) {
		if ttl > 0 {
			c.memoryTTL = ttl
		}
	}
}

// WithInvalidationChannel names the pub/sub channel replicas use to drop
// each other's in-process entries.
func WithInvalidationChannel(name string) LayeredOption {
	return func(c *layeredConfig) {
		if name != "" {
			c.channel = name
		}
	}
}
