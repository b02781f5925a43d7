package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/service/broadcast"
	"MarketLens/internal/usecase"
	"MarketLens/pkg/config"
	xhttp "MarketLens/pkg/http"
	pkgkafka "MarketLens/pkg/kafka"
	applogger "MarketLens/pkg/logger"
	"MarketLens/pkg/queue"
)

// CatalogLoader publishes the tracked item universe.
type CatalogLoader interface {
	Reload(ctx context.Context) (*models.Catalog, error)
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	catalog    CatalogLoader
	httpServer *xhttp.Server
	collector  *usecase.ScrapeCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	jobs       *queue.RedisQueue
	hub        *broadcast.Hub
	warm       []string
}

// Option attaches an optional component to the App.
type Option func(*App)

// WithCollector runs the scrape collector for the App's lifetime.
func WithCollector(c *usecase.ScrapeCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithConsumer consumes the scrape topic with kh.
func WithConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.kh = kh
	}
}

// WithJobQueue starts the background job queue and warms categories on boot.
func WithJobQueue(q *queue.RedisQueue, warm []string) Option {
	return func(a *App) {
		a.jobs = q
		a.warm = warm
	}
}

// WithHub closes stream subscribers on shutdown.
func WithHub(h *broadcast.Hub) Option {
	return func(a *App) { a.hub = h }
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, catalog CatalogLoader, httpServer *xhttp.Server, opts ...Option) *App {
	a := &App{cfg: cfg, log: log, catalog: catalog, httpServer: httpServer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		_ = a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	if cat, err := a.catalog.Reload(ctx); err != nil {
		// The API serves 404s until the next ingest reloads the catalog.
		a.log.Warn("initial catalog load failed", applogger.Error(err))
	} else {
		a.log.Info("catalog ready",
			applogger.Uint64("version", cat.Version),
			applogger.Strings("categories", cat.Categories()))
	}

	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return fmt.Errorf("start job queue: %w", err)
		}
		if st, err := a.jobs.Stats(ctx); err == nil && st.Pending+st.Retrying+st.Dead > 0 {
			a.log.Info("job queue backlog",
				applogger.Int64("pending", st.Pending),
				applogger.Int64("retrying", st.Retrying),
				applogger.Int64("dead", st.Dead))
		}
		for _, category := range a.warm {
			if err := a.jobs.PublishMessage(ctx, usecase.WarmJobType, usecase.WarmPayload{Category: category}); err != nil {
				a.log.Warn("enqueue warm-up failed", applogger.String("category", category), applogger.Error(err))
			}
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			return fmt.Errorf("start collector: %w", err)
		}
		a.log.Info("scrape collector started",
			applogger.Duration("interval", a.cfg.Scraper.Interval),
			applogger.String("dispatch", a.cfg.Scraper.Dispatch))
	}

	return a.httpServer.Start()
}

// shutdown stops intake first, then the workers that drain it.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.log.Info("shutting down")

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			a.log.Warn("job queue stop error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	// Flush aggregated logs while the producer is still open; infrastructure
	// is closed by the DI cleanup after Run returns.
	a.log.RemoveCollector()
	return nil
}
