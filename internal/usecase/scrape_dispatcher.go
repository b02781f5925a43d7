package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
)

// Dispatch modes.
const (
	DispatchKafka  = "kafka"
	DispatchDirect = "direct"
)

// ScrapeDispatcher routes scrape batches to the configured backend.
type ScrapeDispatcher struct {
	pub      drepo.ScrapePublisher
	ingestor *SnapshotIngestor
	metrics  drepo.Metrics
	mode     string
}

func NewScrapeDispatcher(pub drepo.ScrapePublisher, ingestor *SnapshotIngestor, metrics drepo.Metrics, mode string) *ScrapeDispatcher {
	return &ScrapeDispatcher{pub: pub, ingestor: ingestor, metrics: metrics, mode: mode}
}

// Dispatch hands one batch to the backend.
func (d *ScrapeDispatcher) Dispatch(ctx context.Context, batch *models.ScrapeBatch) error {
	if batch == nil {
		return fmt.Errorf("batch is nil")
	}

	start := time.Now()
	var err error

	switch d.mode {
	case DispatchKafka:
		if d.pub == nil {
			err = fmt.Errorf("kafka dispatch without publisher")
			break
		}
		err = d.pub.PublishBatch(ctx, batch)
	case DispatchDirect:
		err = d.ingestor.Ingest(ctx, batch)
	default:
		err = fmt.Errorf("unknown dispatch mode: %s", d.mode)
	}

	if err != nil {
		d.metrics.RecordError("dispatch")
		return fmt.Errorf("dispatch batch: %w", err)
	}

	d.metrics.RecordLatency("dispatch_"+d.mode, time.Since(start).Seconds())
	return nil
}

// Close closes the publisher if one is configured.
func (d *ScrapeDispatcher) Close() {
	if d.pub != nil {
		_ = d.pub.Close()
	}
}
