package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/internal/domain/models"
)

type stubDispatcher struct {
	mu      sync.Mutex
	fails   int
	batches []*models.ScrapeBatch
}

func (s *stubDispatcher) Dispatch(_ context.Context, b *models.ScrapeBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("broker unavailable")
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *stubDispatcher) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type stubMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[kind]++
}

func (m *stubMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *stubMetrics) RecordReport(string, string) {}
func (m *stubMetrics) RecordLatency(string, float64) {}
func (m *stubMetrics) RecordIngested(string, int) {}
func (m *stubMetrics) RecordDataQuality(string) {}
func (m *stubMetrics) RecordLastPrice(string, float64) {}

func batch(rows ...models.ScrapedRow) *models.ScrapeBatch {
	return &models.ScrapeBatch{
		ID:         uuid.New(),
		ScrapeTime: time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC),
		Category:   "Accessory",
		Rows:       rows,
	}
}

func TestIngestPipeline_DropsInvalidRows(t *testing.T) {
	d := &stubDispatcher{}
	m := &stubMetrics{}
	p := NewIngestPipeline(d, m)

	err := p.Process(context.Background(), batch(
		models.ScrapedRow{ItemID: 1, SID: 0, TotalTrades: 3},
		models.ScrapedRow{ItemID: 1, SID: 1, TotalTrades: -1},
		models.ScrapedRow{ItemID: 1, SID: 6},
	))

	require.NoError(t, err)
	require.Equal(t, 1, d.delivered())
	assert.Len(t, d.batches[0].Rows, 1)
	assert.Equal(t, 1, m.count("pipeline_invalid_row"))
}

func TestIngestPipeline_RejectsBadHeader(t *testing.T) {
	p := NewIngestPipeline(&stubDispatcher{}, &stubMetrics{})
	b := batch(models.ScrapedRow{ItemID: 1})
	b.Category = ""

	assert.ErrorIs(t, p.Process(context.Background(), b), models.ErrEmptyCategory)
	assert.Error(t, p.Process(context.Background(), nil))
}

func TestIngestPipeline_BuffersAndFlushesOnFailure(t *testing.T) {
	d := &stubDispatcher{fails: 2}
	m := &stubMetrics{}
	p := NewIngestPipeline(d, m, WithBackoff(time.Millisecond, 5*time.Millisecond), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, batch(models.ScrapedRow{ItemID: 1}))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return d.delivered() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, m.count("pipeline_flush"))
}

func TestIngestPipeline_RestartAfterStop(t *testing.T) {
	d := &stubDispatcher{fails: 1}
	m := &stubMetrics{}
	p := NewIngestPipeline(d, m, WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	p.Stop()
	p.Stop()

	require.Error(t, p.Process(ctx, batch(models.ScrapedRow{ItemID: 1})))
	require.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	require.Eventually(t, func() bool { return d.delivered() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.NotPanics(t, p.Stop)
}

func TestIngestPipeline_Transform(t *testing.T) {
	d := &stubDispatcher{}
	p := NewIngestPipeline(d, &stubMetrics{}, WithTransform(func(b *models.ScrapeBatch) *models.ScrapeBatch {
		b.Endpoint = "rewritten"
		return b
	}))

	require.NoError(t, p.Process(context.Background(), batch(models.ScrapedRow{ItemID: 5})))
	assert.Equal(t, "rewritten", d.batches[0].Endpoint)
}
