package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"MarketLens/internal/domain/repository"
	domsvc "MarketLens/internal/domain/service"
	"MarketLens/internal/handler/api"
	mid "MarketLens/internal/middleware"
	internalrepo "MarketLens/internal/repository"
	"MarketLens/internal/service/broadcast"
	"MarketLens/internal/service/marketapi"
	"MarketLens/internal/service/ratelimit"
	"MarketLens/internal/services/analytics"
	"MarketLens/internal/usecase"
	"MarketLens/pkg/cache"
	pkgch "MarketLens/pkg/clickhouse"
	"MarketLens/pkg/config"
	xhttp "MarketLens/pkg/http"
	pkgkafka "MarketLens/pkg/kafka"
	applogger "MarketLens/pkg/logger"
	"MarketLens/pkg/metrics"
	pkgpg "MarketLens/pkg/postgres"
	"MarketLens/pkg/queue"
	"MarketLens/pkg/server"
)

// InfraSet builds the clients every backend choice shares.
var InfraSet = wire.NewSet(
	ProvideMetrics,
	ProvideSnapshotStore,
	ProvideRedisClient,
	ProvideCache,
	ProvideKafkaProducer,
	ProvideScrapePublisher,
)

// DomainSet builds the report and ingestion use cases.
var DomainSet = wire.NewSet(
	ProvideMetricEngine,
	ProvideCatalog,
	ProvideReportService,
	ProvideHub,
	ProvideNotifier,
	ProvideJobQueue,
	ProvideJobPublisher,
	ProvideIngestor,
	ProvideDispatcher,
	ProvideCollector,
	ProvideKafkaConsumer,
)

// TransportSet builds the HTTP surface and the App.
var TransportSet = wire.NewSet(
	ProvideMarketHandler,
	ProvideHTTPServer,
	ProvideApp,
)

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideSnapshotStore opens the configured storage backend, preparing its
// schema when asked to.
func ProvideSnapshotStore(cfg *config.Config, log *applogger.Logger) (repository.SnapshotStore, func(), error) {
	switch cfg.Storage.Backend {
	case "clickhouse":
		return provideClickHouseStore(cfg, log)
	default:
		return providePostgresStore(cfg, log)
	}
}

func providePostgresStore(cfg *config.Config, log *applogger.Logger) (repository.SnapshotStore, func(), error) {
	client, err := pkgpg.NewClient(
		pkgpg.WithHost(cfg.Postgres.Host, cfg.Postgres.Port),
		pkgpg.WithDatabase(cfg.Postgres.Database),
		pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
		pkgpg.WithPool(cfg.Postgres.MaxConns, cfg.Postgres.MinConns, 0, 0),
		pkgpg.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := pkgpg.Migrate(client.URL(), cfg.Postgres.MigrationsPath); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		log.Info("postgres schema migrated", applogger.String("path", cfg.Postgres.MigrationsPath))
	}

	store := internalrepo.NewPostgresSnapshotStore(client.Pool(), log, cfg.Storage.LatestLookback)
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("postgres close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

func provideClickHouseStore(cfg *config.Config, log *applogger.Logger) (repository.SnapshotStore, func(), error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	table := cfg.ClickHouse.Table
	if table == "" {
		table = internalrepo.DefaultSnapshotTable
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(table)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	store := internalrepo.NewCHSnapshotStore(client, table, cfg.Storage.LatestLookback)
	store.SetLogger(log)
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideRedisClient connects to Redis when enabled; nil otherwise.
func ProvideRedisClient(cfg *config.Config, log *applogger.Logger) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("redis close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideCache builds the report cache for cache.mode.
func ProvideCache(cfg *config.Config, rc *redis.Client) (cache.Service, func(), error) {
	switch cfg.Cache.Mode {
	case "redis":
		return cache.NewRedisCache(rc, "marketlens"), func() {}, nil
	case "layered":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lc, err := cache.NewLayeredCache(ctx,
			cache.NewRedisCache(rc, "marketlens"),
			cache.WithLayeredMemorySize(cfg.Cache.MemorySize),
			cache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("layered cache: %w", err)
		}
		// Close leaves the shared client to its own provider.
		return lc, func() { _ = lc.Close() }, nil
	case "memory":
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemorySize))
		return mc, func() { _ = mc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache mode %q", cfg.Cache.Mode)
	}
}

// ProvideKafkaProducer creates a Kafka producer when batches are dispatched
// through Kafka or logs are collected to a topic; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if cfg.Scraper.Dispatch != usecase.DispatchKafka && cfg.Logging.CollectTopic == "" {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Logging.CollectTopic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			Interval:  30 * time.Second,
			Topic:     cfg.Logging.CollectTopic,
			Publisher: internalrepo.NewKafkaLogPublisher(producer),
		})
	}

	cleanup := func() {
		if err := producer.Close(); err != nil {
			log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideScrapePublisher wraps the producer for scrape batches; nil unless
// batches go through Kafka.
func ProvideScrapePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.ScrapePublisher {
	if producer == nil || cfg.Scraper.Dispatch != usecase.DispatchKafka {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideMetricEngine configures the engine's spike detector.
func ProvideMetricEngine(cfg *config.Config) domsvc.MetricEngine {
	return analytics.NewEngine(analytics.WithDetector(analytics.NewSpikeDetector(
		cfg.Report.SpikeMultiple,
		cfg.Report.SpikeLookback,
		cfg.Report.SpikeMinHistory,
	)))
}

func ProvideCatalog(store repository.SnapshotStore, log *applogger.Logger) *usecase.CatalogProvider {
	return usecase.NewCatalogProvider(store, log)
}

func ProvideReportService(
	store repository.SnapshotStore,
	catalog *usecase.CatalogProvider,
	engine domsvc.MetricEngine,
	c cache.Service,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.ReportService {
	return usecase.NewReportService(store, catalog, engine, c, m, log, usecase.ReportConfig{
		Concurrency:    cfg.Report.Concurrency,
		MaxIntervalDay: cfg.Report.MaxIntervalDay,
		BuildTimeout:   cfg.Report.BuildTimeout,
		CacheTTL:       cfg.Cache.ReportTTL,
	})
}

func ProvideHub(log *applogger.Logger) *broadcast.Hub {
	return broadcast.NewHub(log)
}

func ProvideNotifier(hub *broadcast.Hub, reports *usecase.ReportService, log *applogger.Logger) repository.ReportNotifier {
	return broadcast.NewReportStreamNotifier(hub, reports, log, 0)
}

// ProvideJobQueue starts nothing; it builds the Redis queue with the warm-up
// job registered when the queue is enabled, nil otherwise.
func ProvideJobQueue(cfg *config.Config, rc *redis.Client, reports *usecase.ReportService, log *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(log, &queue.Config{
		Workers:     cfg.Queue.Workers,
		RetryLimit:  cfg.Queue.RetryLimit,
		RetryDelay:  cfg.Queue.RetryDelay,
		PollTimeout: cfg.Queue.PollTimeout,
	}, rc, queue.WithCoalesceWindow(cfg.Queue.CoalesceWindow))
	q.RegisterJob(usecase.NewReportWarmJob(reports, log))
	return q
}

// ProvideJobPublisher exposes the queue to the ingestor without a typed nil.
func ProvideJobPublisher(q *queue.RedisQueue) repository.JobQueue {
	if q == nil {
		return nil
	}
	return q
}

func ProvideIngestor(
	cfg *config.Config,
	store repository.SnapshotStore,
	catalog *usecase.CatalogProvider,
	reports *usecase.ReportService,
	jobs repository.JobQueue,
	notifier repository.ReportNotifier,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.SnapshotIngestor {
	return usecase.NewSnapshotIngestor(cfg.Kafka.Topic, store, catalog, reports, jobs, notifier, m, log)
}

func ProvideDispatcher(pub repository.ScrapePublisher, ingestor *usecase.SnapshotIngestor, m repository.Metrics, cfg *config.Config) *usecase.ScrapeDispatcher {
	return usecase.NewScrapeDispatcher(pub, ingestor, m, cfg.Scraper.Dispatch)
}

// ProvideCollector builds the scrape collector and its ingest pipeline; nil
// when scraping is disabled.
func ProvideCollector(cfg *config.Config, dispatcher *usecase.ScrapeDispatcher, m repository.Metrics, log *applogger.Logger) *usecase.ScrapeCollector {
	if !cfg.Scraper.Enabled {
		return nil
	}
	source := marketapi.New(marketapi.Config{
		BaseURL:  cfg.Scraper.BaseURL,
		Version:  cfg.Scraper.Version,
		Region:   cfg.Scraper.Region,
		Endpoint: cfg.Scraper.Endpoint,
		Timeout:  cfg.Scraper.Timeout,
		RPS:      cfg.Scraper.RPS,
		Burst:    cfg.Scraper.Burst,
	})
	pipe := mid.NewIngestPipeline(dispatcher, m, mid.WithBufferSize(64))
	return usecase.NewScrapeCollector(source, pipe, m, log, cfg.Scraper.Tracked, cfg.Scraper.Interval)
}

// ProvideKafkaConsumer creates the scrape topic consumer; nil unless batches
// are dispatched through Kafka.
func ProvideKafkaConsumer(cfg *config.Config, m repository.Metrics, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Scraper.Dispatch != usecase.DispatchKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, km kafkago.Message, _ []byte, err error) {
			m.RecordError("consumer_handle")
			log.Warn("scrape message failed",
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.String("trace_id", pkgkafka.ExtractTraceID(km)),
				applogger.Error(err))
		},
	})
	return consumer, nil
}

func ProvideMarketHandler(cfg *config.Config, log *applogger.Logger, reports *usecase.ReportService, hub *broadcast.Hub, store repository.SnapshotStore) *api.MarketHandler {
	limiter := ratelimit.New(cfg.API.RPS, cfg.API.Burst, 0)
	return api.NewMarketHandler(log, reports, hub, store, limiter.Middleware())
}

func ProvideHTTPServer(cfg *config.Config, log *applogger.Logger, h *api.MarketHandler) *xhttp.Server {
	return xhttp.NewServer(log, []xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
	)
}

// ProvideApp creates the application server with whichever optional
// components the config enabled.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	catalog *usecase.CatalogProvider,
	srv *xhttp.Server,
	hub *broadcast.Hub,
	collector *usecase.ScrapeCollector,
	consumer *pkgkafka.Consumer,
	ingestor *usecase.SnapshotIngestor,
	jobs *queue.RedisQueue,
) *server.App {
	opts := []server.Option{server.WithHub(hub)}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, ingestor))
	}
	if jobs != nil {
		opts = append(opts, server.WithJobQueue(jobs, cfg.Report.WarmCategories))
	}
	return server.New(cfg, log, catalog, srv, opts...)
}
