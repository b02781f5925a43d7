package repository

import (
	"context"
	"time"

	"MarketLens/internal/domain/models"
)

// SnapshotQuery bounds a snapshot fetch. A nil Window selects the latest
// snapshot per item level, plus each level's newest snapshot at or before the
// latest snapshot of the level above it, so profit can use the nearest prior
// scrape of the lower level.
type SnapshotQuery struct {
	Category string
	ItemID   *int64
	SID      *int
	Window   *Window
}

// SnapshotReader is the read side of the snapshot store.
type SnapshotReader interface {
	FetchSnapshots(ctx context.Context, q SnapshotQuery) ([]models.MarketSnapshot, error)
}

// StoreResult describes one persisted scrape batch.
type StoreResult struct {
	ScrapeID int64
	Inserted int
	Skipped  int
}

// SnapshotWriter is the append-only write side of the snapshot store.
type SnapshotWriter interface {
	StoreBatch(ctx context.Context, batch *models.ScrapeBatch) (StoreResult, error)
}

// CatalogSource loads the tracked item universe.
type CatalogSource interface {
	LoadItems(ctx context.Context) ([]models.Item, error)
}

type SnapshotStore interface {
	SnapshotReader
	SnapshotWriter
	CatalogSource
	Health(ctx context.Context) error // ping
	Close() error
}

// ScrapePublisher hands scrape batches to the ingestion topic.
type ScrapePublisher interface {
	PublishBatch(ctx context.Context, batch *models.ScrapeBatch) error
	Close() error
}

// MarketSource fetches rows for one tracked item from the upstream market.
type MarketSource interface {
	FetchItem(ctx context.Context, itemID int64) ([]models.ScrapedRow, error)
	Endpoint() string
}

// JobQueue enqueues background jobs.
type JobQueue interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// ReportNotifier is told when a category received new snapshots.
type ReportNotifier interface {
	Notify(category string)
}

type Metrics interface {
	RecordReport(category, shape string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordIngested(category string, rows int)
	RecordDataQuality(kind string)
	RecordLastPrice(item string, price float64)
}

// Clock returns the current time.
type Clock func() time.Time
