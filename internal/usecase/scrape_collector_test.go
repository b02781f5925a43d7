package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/internal/domain/models"
	mid "MarketLens/internal/middleware"
	"MarketLens/pkg/logger"
)

func TestScrapeCollector_CollectBuildsOneBatchPerCategory(t *testing.T) {
	source := &fakeSource{
		rows: map[int64][]models.ScrapedRow{
			11653: {{ItemID: 11653, SID: 4, CurrentStock: 1}, {ItemID: 11653, SID: 5, CurrentStock: 2}},
			12091: {{ItemID: 12091, SID: 5, CurrentStock: 3}},
			700:   {{ItemID: 700, SID: 0}},
		},
		errs: map[int64]error{
			701: errors.New("upstream 503"),
		},
	}
	pub := &fakePublisher{}
	metrics := &nopMetrics{}
	dispatcher := NewScrapeDispatcher(pub, nil, metrics, DispatchKafka)
	pipe := mid.NewIngestPipeline(dispatcher, metrics)

	c := NewScrapeCollector(source, pipe, metrics, logger.Nop(), map[string][]int64{
		"Weapon":    {701, 700},
		"Accessory": {12091, 11653},
	}, time.Hour)
	c.now = func() time.Time { return fixedNow }

	sent := c.Collect(context.Background())

	require.Equal(t, 2, sent)
	require.Len(t, pub.batches, 2)
	acc, weapon := pub.batches[0], pub.batches[1]
	assert.Equal(t, "Accessory", acc.Category)
	assert.Equal(t, "Weapon", weapon.Category)
	assert.Equal(t, fixedNow, acc.ScrapeTime)
	assert.Equal(t, "GetWorldMarketSubList", acc.Endpoint)
	assert.Equal(t, int64(11653), acc.Rows[0].ItemID)
	assert.Len(t, acc.Rows, 3)
	assert.Len(t, weapon.Rows, 1)
	assert.NotEqual(t, acc.ID, weapon.ID)
	assert.Contains(t, metrics.errors, "scrape_fetch")
}

func TestScrapeCollector_StartAndShutdown(t *testing.T) {
	source := &fakeSource{rows: map[int64][]models.ScrapedRow{1: {{ItemID: 1, SID: 0}}}}
	pub := &fakePublisher{}
	metrics := &nopMetrics{}
	pipe := mid.NewIngestPipeline(NewScrapeDispatcher(pub, nil, metrics, DispatchKafka), metrics)
	c := NewScrapeCollector(source, pipe, metrics, logger.Nop(), map[string][]int64{"Weapon": {1}}, time.Hour)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return pub.published() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 1, pub.published())
	assert.NoError(t, c.Shutdown(ctx))
}
