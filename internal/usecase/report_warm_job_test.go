package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/pkg/cache"
)

func TestReportWarmJob_FillsCache(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	f := newServiceFixture(t, latestSnaps(), mem)
	job := NewReportWarmJob(f.svc, f.svc.log)

	require.NoError(t, job.Handle(context.Background(), map[string]interface{}{"category": "Accessory"}))
	_, err := f.svc.Build(context.Background(), accessoryFilter())
	require.NoError(t, err)

	assert.Equal(t, 1, f.reader.calls)
	assert.Equal(t, WarmJobType, job.Type())
}

func TestReportWarmJob_SkipsUnknownCategory(t *testing.T) {
	f := newServiceFixture(t, latestSnaps(), nil)
	job := NewReportWarmJob(f.svc, f.svc.log)

	assert.NoError(t, job.Handle(context.Background(), WarmPayload{Category: "Armor"}))
	assert.Error(t, job.Handle(context.Background(), 42))
}

func TestReportWarmJob_UpstreamErrorIsRetried(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	f.reader.err = errors.New("down")
	job := NewReportWarmJob(f.svc, f.svc.log)

	assert.Error(t, job.Handle(context.Background(), &WarmPayload{Category: "Accessory"}))
}
