package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
	mid "MarketLens/internal/middleware"
	"MarketLens/pkg/logger"
)

// ScrapeCollector polls the upstream market for the tracked items and
// feeds one batch per category into the ingest pipeline.
type ScrapeCollector struct {
	source   drepo.MarketSource
	pipe     *mid.IngestPipeline
	metrics  drepo.Metrics
	log      *logger.Logger
	tracked  map[string][]int64
	interval time.Duration
	now      drepo.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScrapeCollector(
	source drepo.MarketSource,
	pipe *mid.IngestPipeline,
	metrics drepo.Metrics,
	log *logger.Logger,
	tracked map[string][]int64,
	interval time.Duration,
) *ScrapeCollector {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ScrapeCollector{
		source:   source,
		pipe:     pipe,
		metrics:  metrics,
		log:      log,
		tracked:  tracked,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs one collection immediately and then one per interval until
// ctx is done or Shutdown is called.
func (c *ScrapeCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.pipe.Start(ctx)

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		c.Collect(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Collect(ctx)
			}
		}
	}()
	return nil
}

// Collect scrapes every tracked category once and returns the number of
// batches handed to the pipeline.
func (c *ScrapeCollector) Collect(ctx context.Context) int {
	scrapeTime := c.now().UTC().Truncate(time.Second)
	sent := 0
	for _, category := range c.categories() {
		if ctx.Err() != nil {
			return sent
		}
		batch := &models.ScrapeBatch{
			ID:         uuid.New(),
			Endpoint:   c.source.Endpoint(),
			ScrapeTime: scrapeTime,
			Category:   category,
		}
		for _, id := range c.itemIDs(category) {
			rows, err := c.source.FetchItem(ctx, id)
			if err != nil {
				c.metrics.RecordError("scrape_fetch")
				c.log.Warn("scrape item failed",
					logger.String("category", category),
					logger.Int64("item_id", id),
					logger.Error(err),
				)
				continue
			}
			batch.Rows = append(batch.Rows, rows...)
		}
		if len(batch.Rows) == 0 {
			continue
		}
		if err := c.pipe.Process(ctx, batch); err != nil {
			c.log.Error("scrape batch dispatch failed",
				logger.String("category", category),
				logger.String("batch_id", batch.ID.String()),
				logger.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (c *ScrapeCollector) categories() []string {
	out := make([]string, 0, len(c.tracked))
	for name := range c.tracked {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *ScrapeCollector) itemIDs(category string) []int64 {
	ids := append([]int64(nil), c.tracked[category]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown stops polling and the pipeline.
func (c *ScrapeCollector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	c.pipe.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
