package di

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/pkg/cache"
	"MarketLens/pkg/config"
	applogger "MarketLens/pkg/logger"
)

func TestProvideCache(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache.Mode = "memory"
	cfg.Cache.MemorySize = 8

	svc, cleanup, err := ProvideCache(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	assert.IsType(t, &cache.MemoryCache{}, svc)

	cfg.Cache.Mode = "bogus"
	_, _, err = ProvideCache(cfg, nil)
	assert.Error(t, err)
}

func TestProvideCache_LayeredSharesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Cache.Mode = "layered"

	rc, closeRedis, err := ProvideRedisClient(cfg, applogger.Nop())
	require.NoError(t, err)
	t.Cleanup(closeRedis)

	svc, cleanup, err := ProvideCache(cfg, rc)
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &cache.LayeredCache{}, svc)
	// The layered cleanup leaves the shared client open.
	require.NoError(t, rc.Ping(t.Context()).Err())
}

func TestProvideRedisClient_Disabled(t *testing.T) {
	rc, cleanup, err := ProvideRedisClient(&config.Config{}, applogger.Nop())
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, rc)
}

func TestOptionalProvidersReturnUntypedNil(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scraper.Dispatch = "direct"

	assert.Nil(t, ProvideScrapePublisher(nil, cfg))
	assert.Nil(t, ProvideJobPublisher(nil))
	assert.Nil(t, ProvideJobQueue(cfg, nil, nil, applogger.Nop()))
	assert.Nil(t, ProvideCollector(cfg, nil, nil, applogger.Nop()))

	consumer, err := ProvideKafkaConsumer(cfg, nil, applogger.Nop())
	require.NoError(t, err)
	assert.Nil(t, consumer)

	producer, cleanup, err := ProvideKafkaProducer(cfg, applogger.Nop())
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, producer)
}
