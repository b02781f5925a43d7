package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	pkgkafka "MarketLens/pkg/kafka"
	"MarketLens/pkg/logger"
)

// SnapshotIngestor persists scrape batches consumed from the scrape topic
// and refreshes everything derived from them.
type SnapshotIngestor struct {
	topic    string
	writer   domrepo.SnapshotWriter
	catalog  *CatalogProvider
	reports  *ReportService
	jobs     domrepo.JobQueue
	notifier domrepo.ReportNotifier
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewSnapshotIngestor(
	topic string,
	writer domrepo.SnapshotWriter,
	catalog *CatalogProvider,
	reports *ReportService,
	jobs domrepo.JobQueue,
	notifier domrepo.ReportNotifier,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *SnapshotIngestor {
	return &SnapshotIngestor{
		topic:    topic,
		writer:   writer,
		catalog:  catalog,
		reports:  reports,
		jobs:     jobs,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

func (h *SnapshotIngestor) Topic() string { return h.topic }

// Handle decodes a ScrapeBatch message and ingests it. Errors are returned
// so the consumer retries and finally dead-letters the message.
func (h *SnapshotIngestor) Handle(ctx context.Context, b []byte) error {
	var batch models.ScrapeBatch
	if err := json.Unmarshal(b, &batch); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode scrape batch: %w", err)
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(batch.ScrapeTime).Seconds())
	return h.Ingest(ctx, &batch)
}

// Ingest writes the batch append-only, then reloads the catalog, drops the
// category's cached reports, queues a cache warm-up and notifies streams.
// Failures after the write are logged and do not fail the batch.
func (h *SnapshotIngestor) Ingest(ctx context.Context, batch *models.ScrapeBatch) error {
	if err := batch.Validate(); err != nil {
		h.metrics.RecordError("ingest_validate")
		return err
	}
	if dropped := batch.Clean(); dropped > 0 {
		h.metrics.RecordError("ingest_invalid_row")
		h.log.Warn("dropped invalid rows",
			logger.String("category", batch.Category),
			logger.Int("dropped", dropped),
		)
	}

	start := time.Now()
	res, err := h.writer.StoreBatch(ctx, batch)
	h.metrics.RecordLatency("store_batch_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return fmt.Errorf("store batch %s: %w", batch.ID, err)
	}
	h.metrics.RecordIngested(batch.Category, res.Inserted)
	h.log.Info("scrape batch stored",
		logger.String("batch_id", batch.ID.String()),
		logger.String("category", batch.Category),
		logger.Int64("scrape_id", res.ScrapeID),
		logger.Int("inserted", res.Inserted),
		logger.Int("skipped", res.Skipped),
	)

	h.refresh(ctx, batch.Category)
	return nil
}

func (h *SnapshotIngestor) refresh(ctx context.Context, category string) {
	if h.catalog != nil {
		if _, err := h.catalog.Reload(ctx); err != nil {
			h.log.Error("catalog reload failed", logger.Error(err))
		}
	}
	if h.reports != nil {
		if err := h.reports.InvalidateCategory(ctx, category); err != nil {
			h.log.Warn("report cache invalidation failed", logger.String("category", category), logger.Error(err))
		}
	}
	if h.jobs != nil {
		if err := h.jobs.PublishMessage(ctx, WarmJobType, WarmPayload{Category: category}); err != nil {
			h.log.Warn("enqueue report warm-up failed", logger.String("category", category), logger.Error(err))
		}
	}
	if h.notifier != nil {
		h.notifier.Notify(category)
	}
}

var _ pkgkafka.MessageHandler = (*SnapshotIngestor)(nil)
