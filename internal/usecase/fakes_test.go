package usecase

import (
	"context"
	"maps"
	"slices"
	"sync"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
)

// fakeReader filters snaps like the stores do. Latest queries return each
// level's newest snapshot plus the lower level's newest snapshot at or before
// it.
type fakeReader struct {
	mu       sync.Mutex
	snaps    []models.MarketSnapshot
	err      error
	calls    int
	inFlight int
	queries  []domrepo.SnapshotQuery
	gate     chan struct{} // when set, fetches wait for it to close
}

func (f *fakeReader) fetching() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *fakeReader) FetchSnapshots(ctx context.Context, q domrepo.SnapshotQuery) ([]models.MarketSnapshot, error) {
	f.mu.Lock()
	f.inFlight++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.MarketSnapshot
	for _, s := range f.snaps {
		if s.Item.Category != q.Category {
			continue
		}
		if q.ItemID != nil && s.Item.ItemID != *q.ItemID {
			continue
		}
		if q.SID != nil && s.Item.SID != *q.SID {
			continue
		}
		out = append(out, s)
	}
	if q.Window == nil {
		out = latestPerLevel(out)
	}
	return out, nil
}

func latestPerLevel(snaps []models.MarketSnapshot) []models.MarketSnapshot {
	newest := map[models.ItemKey]models.MarketSnapshot{}
	for _, s := range snaps {
		if cur, ok := newest[s.Item.Key()]; !ok || s.ScrapeTime.After(cur.ScrapeTime) {
			newest[s.Item.Key()] = s
		}
	}
	prior := map[models.ItemKey]models.MarketSnapshot{}
	for _, s := range snaps {
		up, ok := newest[models.ItemKey{ItemID: s.Item.ItemID, SID: s.Item.SID + 1}]
		if !ok || s.ScrapeTime.After(up.ScrapeTime) {
			continue
		}
		if cur, ok := prior[s.Item.Key()]; !ok || s.ScrapeTime.After(cur.ScrapeTime) {
			prior[s.Item.Key()] = s
		}
	}

	return domrepo.MergeSnapshots(slices.Collect(maps.Values(newest)), slices.Collect(maps.Values(prior)))
}

type fakeCatalogSource struct {
	items []models.Item
	err   error
}

func (f *fakeCatalogSource) LoadItems(context.Context) ([]models.Item, error) {
	return f.items, f.err
}

type fakeWriter struct {
	mu      sync.Mutex
	batches []*models.ScrapeBatch
	err     error
}

func (f *fakeWriter) StoreBatch(_ context.Context, b *models.ScrapeBatch) (domrepo.StoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domrepo.StoreResult{}, f.err
	}
	f.batches = append(f.batches, b)
	return domrepo.StoreResult{ScrapeID: int64(len(f.batches)), Inserted: len(b.Rows)}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	payloads []interface{}
}

func (f *fakeQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msgType)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	categories []string
}

func (f *fakeNotifier) Notify(category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = append(f.categories, category)
}

type fakePublisher struct {
	mu      sync.Mutex
	batches []*models.ScrapeBatch
	err     error
}

func (f *fakePublisher) PublishBatch(_ context.Context, b *models.ScrapeBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakePublisher) Close() error { return nil }

type fakeSource struct {
	rows map[int64][]models.ScrapedRow
	errs map[int64]error
}

func (f *fakeSource) FetchItem(_ context.Context, id int64) ([]models.ScrapedRow, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.rows[id], nil
}

func (f *fakeSource) Endpoint() string { return "GetWorldMarketSubList" }

type nopMetrics struct {
	mu          sync.Mutex
	errors      []string
	dataQuality []string
	reports     []string
}

func (m *nopMetrics) RecordReport(category, shape string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, category+"/"+shape)
}

func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}

func (m *nopMetrics) RecordLatency(string, float64) {}
func (m *nopMetrics) RecordIngested(string, int) {}
func (m *nopMetrics) RecordLastPrice(string, float64) {}

func (m *nopMetrics) RecordDataQuality(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataQuality = append(m.dataQuality, kind)
}
