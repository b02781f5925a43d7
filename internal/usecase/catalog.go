package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

// CatalogProvider serves the tracked item universe as an immutable,
// versioned snapshot. Readers capture Current once per request.
type CatalogProvider struct {
	source  domrepo.CatalogSource
	log     *logger.Logger
	now     domrepo.Clock
	current atomic.Pointer[models.Catalog]
	reload  sync.Mutex
}

func NewCatalogProvider(source domrepo.CatalogSource, log *logger.Logger) *CatalogProvider {
	p := &CatalogProvider{source: source, log: log, now: time.Now}
	p.current.Store(models.NewCatalog(0, time.Time{}, nil))
	return p
}

// Current returns the active catalog snapshot.
func (p *CatalogProvider) Current() *models.Catalog {
	return p.current.Load()
}

// Reload loads the item universe and publishes it under the next version.
// On failure the previous snapshot stays active.
func (p *CatalogProvider) Reload(ctx context.Context) (*models.Catalog, error) {
	p.reload.Lock()
	defer p.reload.Unlock()

	items, err := p.source.LoadItems(ctx)
	if err != nil {
		return p.Current(), fmt.Errorf("load catalog: %w", err)
	}
	next := models.NewCatalog(p.Current().Version+1, p.now().UTC(), items)
	p.current.Store(next)
	p.log.Info("catalog reloaded",
		logger.Uint64("version", next.Version),
		logger.Int("categories", len(next.Categories())),
		logger.Int("items", next.Size()),
	)
	return next, nil
}
