package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScrapedRow is one item level as returned by the upstream market API.
type ScrapedRow struct {
	ItemID        int64  `json:"id"`
	SID           int    `json:"sid"`
	Name          string `json:"name"`
	CurrentStock  int64  `json:"currentStock"`
	TotalTrades   int64  `json:"totalTrades"`
	LastSoldPrice int64  `json:"lastSoldPrice"`
	LastSoldTime  int64  `json:"lastSoldTime"` // unix seconds, 0 if never sold
}

// SoldAt returns the last sale time, nil when the row was never sold.
func (r ScrapedRow) SoldAt() *time.Time {
	if r.LastSoldTime <= 0 {
		return nil
	}
	t := time.Unix(r.LastSoldTime, 0).UTC()
	return &t
}

// Validate checks the row against the ingestion contract at scrapeTime.
func (r ScrapedRow) Validate(scrapeTime time.Time) error {
	if r.ItemID <= 0 {
		return fmt.Errorf("invalid item id %d", r.ItemID)
	}
	if !ValidSID(r.SID) {
		return fmt.Errorf("item %d: sid %d out of range", r.ItemID, r.SID)
	}
	if r.CurrentStock < 0 || r.TotalTrades < 0 || r.LastSoldPrice < 0 {
		return fmt.Errorf("item %d sid %d: negative counter", r.ItemID, r.SID)
	}
	if sold := r.SoldAt(); sold != nil && sold.After(scrapeTime) {
		return fmt.Errorf("item %d sid %d: last sold time after scrape time", r.ItemID, r.SID)
	}
	return nil
}

// ScrapeBatch is one category's rows captured by a single scrape.
type ScrapeBatch struct {
	ID         uuid.UUID    `json:"id"`
	Endpoint   string       `json:"endpoint"`
	ScrapeTime time.Time    `json:"scrape_time"`
	Category   string       `json:"category"`
	Rows       []ScrapedRow `json:"rows"`
}

var (
	ErrEmptyCategory = errors.New("scrape batch has no category")
	ErrNoScrapeTime  = errors.New("scrape batch has no scrape time")
)

// Validate checks the batch header.
func (b *ScrapeBatch) Validate() error {
	if b.Category == "" {
		return ErrEmptyCategory
	}
	if b.ScrapeTime.IsZero() {
		return ErrNoScrapeTime
	}
	return nil
}

// Clean drops rows that break the ingestion contract and returns how many
// were dropped.
func (b *ScrapeBatch) Clean() int {
	kept := b.Rows[:0]
	dropped := 0
	for _, r := range b.Rows {
		if err := r.Validate(b.ScrapeTime); err != nil {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	b.Rows = kept
	return dropped
}

// Snapshots converts the rows into snapshots for the given scrape id.
func (b *ScrapeBatch) Snapshots(scrapeID int64) []MarketSnapshot {
	out := make([]MarketSnapshot, 0, len(b.Rows))
	for _, r := range b.Rows {
		out = append(out, MarketSnapshot{
			Item: Item{
				ItemID:   r.ItemID,
				SID:      r.SID,
				Name:     r.Name,
				Category: b.Category,
			},
			ScrapeID:      scrapeID,
			ScrapeTime:    b.ScrapeTime,
			CurrentStock:  r.CurrentStock,
			TotalTrades:   r.TotalTrades,
			LastSoldPrice: r.LastSoldPrice,
			LastSoldTime:  r.SoldAt(),
		})
	}
	return out
}
