package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/service/broadcast"
	xhttp "MarketLens/pkg/http"
	xlogger "MarketLens/pkg/logger"
)

// Reports is the report use case the handler serves.
type Reports interface {
	Build(ctx context.Context, filter models.ReportFilter) (*models.Report, error)
	Catalog() *models.Catalog
}

// HealthChecker pings a storage backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CategoriesResponse lists the tracked categories.
type CategoriesResponse struct {
	CatalogVersion uint64   `json:"catalog_version"`
	Categories     []string `json:"categories"`
}

// MarketHandler serves the market report API.
type MarketHandler struct {
	logger  *xlogger.Logger
	reports Reports
	hub     *broadcast.Hub
	health  HealthChecker
	limit   echo.MiddlewareFunc
}

func NewMarketHandler(logger *xlogger.Logger, reports Reports, hub *broadcast.Hub, health HealthChecker, limit echo.MiddlewareFunc) *MarketHandler {
	return &MarketHandler{logger: logger, reports: reports, hub: hub, health: health, limit: limit}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	var mw []echo.MiddlewareFunc
	if h.limit != nil {
		mw = append(mw, h.limit)
	}
	g := e.Group("/api/market", mw...)
	g.GET("/items", h.Items)
	g.POST("/query", h.Items)
	g.GET("/categories", h.Categories)
	g.GET("/items/export", h.Export)
	if h.hub != nil {
		g.GET("/stream", h.Stream)
	}
	e.GET("/health", h.Health)
}

// Items answers both the query-string and JSON-body forms of the filter.
func (h *MarketHandler) Items(c echo.Context) error {
	req := &FilterRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	filter, err := req.ToFilter()
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	report, err := h.reports.Build(c.Request().Context(), filter)
	if err != nil {
		h.logError("report build error", filter, err)
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, report)
}

func (h *MarketHandler) Categories(c echo.Context) error {
	cat := h.reports.Catalog()
	resp := CategoriesResponse{Categories: cat.Categories()}
	if cat != nil {
		resp.CatalogVersion = cat.Version
	}
	if resp.Categories == nil {
		resp.Categories = []string{}
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *MarketHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if h.health != nil {
		if err := h.health.Health(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("storage unavailable").WithError(err))
		}
	}
	return xhttp.DataResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MarketHandler) logError(msg string, f models.ReportFilter, err error) {
	fields := []xlogger.Field{xlogger.String("category", f.Category), xlogger.Error(err)}
	if f.ItemID != nil {
		fields = append(fields, xlogger.Int64("item_id", *f.ItemID))
	}
	if f.SID != nil {
		fields = append(fields, xlogger.Int("sid", *f.SID))
	}
	if f.IntervalDay != nil {
		fields = append(fields, xlogger.Int("interval_day", *f.IntervalDay))
	}
	h.logger.Error(msg, fields...)
}
