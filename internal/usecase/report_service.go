package usecase

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	domsvc "MarketLens/internal/domain/service"
	apperrors "MarketLens/internal/errors"
	"MarketLens/internal/services/analytics"
	"MarketLens/pkg/cache"
	"MarketLens/pkg/logger"
)

// ReportConfig tunes report building.
type ReportConfig struct {
	Concurrency    int
	MaxIntervalDay int
	// BuildTimeout bounds a shared build. Callers waiting on it are bounded
	// by their own context.
	BuildTimeout time.Duration
	CacheTTL     time.Duration
}

// ReportService answers report filters: validate, fetch, compute, assemble.
type ReportService struct {
	reader  domrepo.SnapshotReader
	catalog *CatalogProvider
	engine  domsvc.MetricEngine
	cache   cache.Service
	metrics domrepo.Metrics
	log     *logger.Logger
	cfg     ReportConfig
	now     domrepo.Clock
	flight  singleflight.Group
}

func NewReportService(
	reader domrepo.SnapshotReader,
	catalog *CatalogProvider,
	engine domsvc.MetricEngine,
	c cache.Service,
	metrics domrepo.Metrics,
	log *logger.Logger,
	cfg ReportConfig,
) *ReportService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxIntervalDay <= 0 {
		cfg.MaxIntervalDay = 90
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 30 * time.Second
	}
	return &ReportService{
		reader:  reader,
		catalog: catalog,
		engine:  engine,
		cache:   c,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Catalog returns the active catalog snapshot.
func (s *ReportService) Catalog() *models.Catalog {
	return s.catalog.Current()
}

// MaxIntervalDay returns the largest accepted intervalDay.
func (s *ReportService) MaxIntervalDay() int {
	return s.cfg.MaxIntervalDay
}

// Build computes the report for filter. Validation fails before any query;
// storage failures abort the request as UpstreamUnavailable.
func (s *ReportService) Build(ctx context.Context, filter models.ReportFilter) (*models.Report, error) {
	start := s.now()
	cat := s.catalog.Current()

	if err := filter.Validate(s.cfg.MaxIntervalDay); err != nil {
		s.metrics.RecordError(string(apperrors.KindValidation))
		return nil, err
	}
	if !cat.HasCategory(filter.Category) {
		s.metrics.RecordError(string(apperrors.KindNotFound))
		return nil, apperrors.NewNotFoundError("category", filter.Category).
			WithDetail("catalog_version", cat.Version)
	}

	key := filter.CacheKey(cat.Version, start)
	if report, ok := s.cached(ctx, key); ok {
		s.metrics.RecordReport(filter.Category, filter.Shape()+"_cached")
		return report, nil
	}

	// Concurrent misses on one key share a single build. The build is not
	// tied to any caller, so one caller leaving does not fail the others.
	ch := s.flight.DoChan(key, func() (interface{}, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BuildTimeout)
		defer cancel()
		return s.compute(bctx, filter, cat, key, start)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Report), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ReportService) compute(ctx context.Context, filter models.ReportFilter, cat *models.Catalog, key string, start time.Time) (*models.Report, error) {
	q := domrepo.SnapshotQuery{Category: filter.Category, ItemID: filter.ItemID, SID: filter.SID}
	var emitFrom *time.Time
	if filter.HasInterval() {
		w := domrepo.NewWindow(*filter.IntervalDay, start)
		ws := w.Start()
		q.Window = &w
		emitFrom = &ws
	}

	fetchStart := s.now()
	snaps, err := s.reader.FetchSnapshots(ctx, q)
	s.metrics.RecordLatency("fetch_snapshots", s.now().Sub(fetchStart).Seconds())
	if err != nil {
		s.metrics.RecordError(string(apperrors.KindUpstream))
		s.log.Error("fetch snapshots failed",
			logger.String("category", filter.Category),
			logger.Error(err),
		)
		return nil, apperrors.NewUpstreamUnavailable("fetch snapshots", err)
	}

	families := models.GroupFamilies(tracked(cat, filter.Category, snaps))
	results := make([]analytics.FamilyResult, len(families))

	// Metric computation is pure; only the fetch above honours ctx.
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range families {
		g.Go(func() error {
			results[i] = analytics.BuildFamily(s.engine, families[i], filter.Pinned(), emitFrom)
			return nil
		})
	}
	_ = g.Wait()

	report := analytics.Assemble(filter, cat.Version, start.UTC(), results)
	s.record(&report)

	if s.cache != nil && s.cfg.CacheTTL > 0 {
		if err := s.cache.Set(ctx, key, report, s.cfg.CacheTTL); err != nil {
			s.log.Warn("cache report failed", logger.String("key", key), logger.Error(err))
		}
	}

	s.metrics.RecordReport(filter.Category, filter.Shape())
	s.metrics.RecordLatency("report_build", s.now().Sub(start).Seconds())
	s.log.Debug("report built",
		logger.String("category", filter.Category),
		logger.String("shape", filter.Shape()),
		logger.Int("families", len(families)),
		logger.Duration("took", s.now().Sub(start)),
	)
	return &report, nil
}

func (s *ReportService) cached(ctx context.Context, key string) (*models.Report, bool) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return nil, false
	}
	var report models.Report
	if err := s.cache.Get(ctx, key, &report); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("read cached report failed", logger.String("key", key), logger.Error(err))
		}
		return nil, false
	}
	return &report, true
}

func (s *ReportService) record(r *models.Report) {
	for _, row := range r.Rows {
		if row.Price != nil {
			s.metrics.RecordLastPrice(models.ItemKey{ItemID: row.ItemID, SID: row.SID}.String(), float64(*row.Price))
		}
	}
	for _, it := range r.Items {
		for _, w := range it.Warnings {
			s.metrics.RecordDataQuality(string(w.Kind))
		}
	}
}

// InvalidateCategory drops every cached report of category.
func (s *ReportService) InvalidateCategory(ctx context.Context, category string) error {
	if s.cache == nil {
		return nil
	}
	for _, pattern := range models.CategoryCachePatterns(category) {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// tracked keeps the snapshots of item levels the catalog tracks under category.
func tracked(cat *models.Catalog, category string, snaps []models.MarketSnapshot) []models.MarketSnapshot {
	out := snaps[:0:0]
	for _, sn := range snaps {
		if cat.Contains(category, sn.Item.Key()) {
			out = append(out, sn)
		}
	}
	return out
}
