package logger

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"
)

// Publisher ships a batch of collected log digests.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls how error logs are grouped and shipped.
type CollectionConfig struct {
	Interval   time.Duration // flush period, default 30s
	MaxPending int           // distinct digests that force an early flush, default 100
	Topic      string
	Publisher  Publisher
}

// LogDigest groups identical log lines raised from one call site.
type LogDigest struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller"`
	Fields    map[string]interface{} `json:"fields"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector keys digests by level, call site and message. Field values
// from the first occurrence are kept.
type LogCollector struct {
	cfg     CollectionConfig
	mu      sync.Mutex
	pending map[string]*LogDigest
	kick    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		pending: make(map[string]*LogDigest),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if c.cfg.Interval <= 0 {
		c.cfg.Interval = 30 * time.Second
	}
	if c.cfg.MaxPending <= 0 {
		c.cfg.MaxPending = 100
	}
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, msg string, fields map[string]interface{}, caller string) {
	now := time.Now().UTC()
	key := level + "|" + caller + "|" + msg

	c.mu.Lock()
	d, ok := c.pending[key]
	if !ok {
		d = &LogDigest{Level: level, Message: msg, Caller: caller, Fields: fields, FirstSeen: now}
		c.pending[key] = d
	}
	d.Count++
	d.LastSeen = now
	full := len(c.pending) >= c.cfg.MaxPending
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

func (c *LogCollector) loop() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.kick:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush publishes pending digests, most frequent first.
func (c *LogCollector) flush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := make([]LogDigest, 0, len(c.pending))
	for _, d := range c.pending {
		batch = append(batch, *d)
	}
	c.pending = make(map[string]*LogDigest)
	c.mu.Unlock()

	slices.SortFunc(batch, func(a, b LogDigest) int { return b.Count - a.Count })

	if c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// The logger cannot log its own delivery failures.
		fmt.Fprintf(os.Stderr, "publish %d log digests to %s: %v\n", len(batch), c.cfg.Topic, err)
	}
}

// Close stops the flush loop after a final synchronous flush.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
}
