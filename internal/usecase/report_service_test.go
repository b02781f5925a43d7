package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/internal/domain/models"
	apperrors "MarketLens/internal/errors"
	"MarketLens/internal/services/analytics"
	"MarketLens/pkg/cache"
	"MarketLens/pkg/logger"
)

var fixedNow = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

func accessory(id int64, sid int) models.Item {
	return models.Item{ItemID: id, SID: sid, Name: "acc", Category: "Accessory"}
}

func snapAt(item models.Item, at time.Time, price, stock, trades int64) models.MarketSnapshot {
	return models.MarketSnapshot{
		Item:          item,
		ScrapeTime:    at,
		LastSoldPrice: price,
		CurrentStock:  stock,
		TotalTrades:   trades,
	}
}

type serviceFixture struct {
	svc     *ReportService
	reader  *fakeReader
	metrics *nopMetrics
	catalog *CatalogProvider
}

func newServiceFixture(t *testing.T, snaps []models.MarketSnapshot, c cache.Service) *serviceFixture {
	t.Helper()
	items := []models.Item{
		accessory(11653, 4), accessory(11653, 5),
		accessory(12091, 4), accessory(12091, 5),
		{ItemID: 700, SID: 0, Name: "sword", Category: "Weapon"},
	}
	catalog := NewCatalogProvider(&fakeCatalogSource{items: items}, logger.Nop())
	_, err := catalog.Reload(context.Background())
	require.NoError(t, err)

	reader := &fakeReader{snaps: snaps}
	metrics := &nopMetrics{}
	svc := NewReportService(reader, catalog, analytics.NewEngine(), c, metrics, logger.Nop(), ReportConfig{
		Concurrency:    2,
		MaxIntervalDay: 30,
		CacheTTL:       time.Minute,
	})
	svc.now = func() time.Time { return fixedNow }
	return &serviceFixture{svc: svc, reader: reader, metrics: metrics, catalog: catalog}
}

func accessoryFilter() models.ReportFilter {
	return models.ReportFilter{Category: "Accessory"}
}

func latestSnaps() []models.MarketSnapshot {
	at := fixedNow.Add(-2 * time.Hour)
	return []models.MarketSnapshot{
		snapAt(accessory(11653, 4), at, 100e9, 5, 10),
		snapAt(accessory(11653, 5), at, 163e9, 8, 17),
		snapAt(accessory(12091, 4), at, 20e9, 3, 50),
		snapAt(accessory(12091, 5), at, 40100000000, 2, 70),
		snapAt(models.Item{ItemID: 999, SID: 0, Category: "Accessory"}, at, 1e12, 1, 1), // not tracked
	}
}

func TestReportService_RankedCategoryReport(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Accessory"})
	require.NoError(t, err)

	require.Len(t, report.Rows, 4)
	assert.Nil(t, report.Items)
	assert.Equal(t, uint64(1), report.CatalogVersion)

	// 12091:5 ror 1.005, 11653:5 ror 0.63, then sid 4 rows by price.
	got := make([]models.ItemKey, 0, len(report.Rows))
	for _, r := range report.Rows {
		got = append(got, models.ItemKey{ItemID: r.ItemID, SID: r.SID})
	}
	assert.Equal(t, []models.ItemKey{
		{ItemID: 12091, SID: 5},
		{ItemID: 11653, SID: 5},
		{ItemID: 11653, SID: 4},
		{ItemID: 12091, SID: 4},
	}, got)
	require.NotNil(t, report.Rows[0].RateOfReturn)
	assert.InDelta(t, 1.005, *report.Rows[0].RateOfReturn, 1e-9)
	assert.Nil(t, f.reader.queries[0].Window)
}

func TestReportService_ValidationFailsBeforeQuery(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)
	sid := 6

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Accessory", SID: &sid})

	assert.Nil(t, report)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, f.reader.calls)
}

func TestReportService_UnknownCategory(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)

	_, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Armor"})

	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, f.reader.calls)
}

func TestReportService_EmptyResultIsNotAnError(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)
	id := int64(700)

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Weapon", ItemID: &id})

	require.NoError(t, err)
	assert.Empty(t, report.Rows)
}

func TestReportService_UpstreamFailure(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	cause := errors.New("connection refused")
	f.reader.err = cause

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Accessory"})

	assert.Nil(t, report)
	assert.True(t, apperrors.IsUpstream(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, f.metrics.errors, string(apperrors.KindUpstream))
}

func TestReportService_PinnedSIDSuppressesProfit(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)
	sid := 5

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Accessory", SID: &sid})
	require.NoError(t, err)

	require.Len(t, report.Rows, 2)
	for _, r := range report.Rows {
		assert.Equal(t, 5, r.SID)
		assert.Nil(t, r.Profit)
		assert.Nil(t, r.RateOfReturn)
	}
	// without a rate of return the rows fall back to price order
	assert.Equal(t, int64(11653), report.Rows[0].ItemID)
}

func TestReportService_IntervalTrend(t *testing.T) {
	item := accessory(11653, 5)
	deltas := []int64{4, 1, 4, 1, 2, 4, 1}
	prices := []int64{158e9, 159e9, 175e9, 161e9, 169e9, 170e9, 175e9, 163e9}
	stock := []int64{4, 4, 3, 4, 7, 6, 6, 8}
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	trades := int64(1000)
	var snaps []models.MarketSnapshot
	for i := range prices {
		if i > 0 {
			trades += deltas[i-1]
		}
		snaps = append(snaps, snapAt(item, first.AddDate(0, 0, i), prices[i], stock[i], trades))
	}

	f := newServiceFixture(t, snaps, nil)
	id, days := int64(11653), 7

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Accessory", ItemID: &id, IntervalDay: &days})
	require.NoError(t, err)

	require.Len(t, report.Items, 1)
	assert.Nil(t, report.Rows)
	row := report.Items[0]
	var vols []int64
	for _, p := range row.Trend {
		vols = append(vols, p.Volume)
	}
	assert.Equal(t, deltas, vols)

	q := f.reader.queries[0]
	require.NotNil(t, q.Window)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), q.Window.From)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), q.Window.To)
}

func TestReportService_CachesByCatalogVersion(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	f := newServiceFixture(t, latestSnaps(), mem)
	ctx := context.Background()
	filter := models.ReportFilter{Category: "Accessory"}

	first, err := f.svc.Build(ctx, filter)
	require.NoError(t, err)
	second, err := f.svc.Build(ctx, filter)
	require.NoError(t, err)

	assert.Equal(t, 1, f.reader.calls)
	assert.Equal(t, len(first.Rows), len(second.Rows))
	assert.Equal(t, first.Rows[0].ItemID, second.Rows[0].ItemID)

	_, err = f.catalog.Reload(ctx)
	require.NoError(t, err)
	third, err := f.svc.Build(ctx, filter)
	require.NoError(t, err)

	assert.Equal(t, 2, f.reader.calls)
	assert.Equal(t, uint64(2), third.CatalogVersion)
}

func TestReportService_InvalidateCategory(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	f := newServiceFixture(t, latestSnaps(), mem)
	ctx := context.Background()

	_, err := f.svc.Build(ctx, models.ReportFilter{Category: "Accessory"})
	require.NoError(t, err)
	require.NoError(t, f.svc.InvalidateCategory(ctx, "Accessory"))
	_, err = f.svc.Build(ctx, models.ReportFilter{Category: "Accessory"})
	require.NoError(t, err)

	assert.Equal(t, 2, f.reader.calls)
}

func TestReportService_ConcurrentMissesShareOneBuild(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	f := newServiceFixture(t, latestSnaps(), mc)
	f.reader.gate = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	reports := make([]*models.Report, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.Build(context.Background(), accessoryFilter())
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.reader.gate)
	wg.Wait()

	assert.Equal(t, 1, f.reader.calls)
	for _, r := range reports {
		require.NotNil(t, r)
		assert.Len(t, r.Rows, len(reports[0].Rows))
	}
}

func TestReportService_CancelledCallerLeavesSharedBuildRunning(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)
	f.reader.gate = make(chan struct{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.svc.Build(ctxA, accessoryFilter())
		errA <- err
	}()
	require.Eventually(t, func() bool { return f.reader.fetching() == 1 }, time.Second, time.Millisecond)

	type result struct {
		report *models.Report
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		r, err := f.svc.Build(context.Background(), accessoryFilter())
		resB <- result{r, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(f.reader.gate)
	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.report.Rows, 4)
	assert.Equal(t, 1, f.reader.calls)
}

func TestReportService_ProfitUsesNearestPriorLowerLevel(t *testing.T) {
	t0 := fixedNow.Add(-3 * time.Hour)
	t1 := fixedNow.Add(-1 * time.Hour)
	snaps := []models.MarketSnapshot{
		snapAt(accessory(11653, 4), t0, 100e9, 5, 10),
		snapAt(accessory(11653, 5), t0, 163e9, 8, 17),
		// level 5 was dropped from the newer scrape
		snapAt(accessory(11653, 4), t1, 101e9, 5, 11),
	}
	f := newServiceFixture(t, snaps, nil)
	id := int64(11653)

	report, err := f.svc.Build(context.Background(), models.ReportFilter{Category: "Accessory", ItemID: &id})
	require.NoError(t, err)

	var top *models.RankedRow
	for i := range report.Rows {
		if report.Rows[i].SID == 5 {
			top = &report.Rows[i]
		}
	}
	require.NotNil(t, top)
	require.NotNil(t, top.Profit)
	assert.Equal(t, int64(63e9), *top.Profit)
	require.NotNil(t, top.RateOfReturn)
	assert.InDelta(t, 0.63, *top.RateOfReturn, 1e-9)
}
