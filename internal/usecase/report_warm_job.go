package usecase

import (
	"context"

	"MarketLens/internal/domain/models"
	apperrors "MarketLens/internal/errors"
	"MarketLens/pkg/logger"
	"MarketLens/pkg/queue"
)

// WarmJobType is the queue message type of report warm-ups.
const WarmJobType = "report.warm"

// WarmPayload asks for a category's ranked report to be rebuilt.
type WarmPayload struct {
	Category string `json:"category"`
}

// CoalesceKey collapses pending warm-ups of one category into one.
func (p WarmPayload) CoalesceKey() string { return p.Category }

// ReportWarmJob rebuilds a category's ranked report so the next request
// is served from cache.
type ReportWarmJob struct {
	reports *ReportService
	log     *logger.Logger
}

func NewReportWarmJob(reports *ReportService, log *logger.Logger) *ReportWarmJob {
	return &ReportWarmJob{reports: reports, log: log}
}

func (j *ReportWarmJob) Name() string { return "report_warm" }

func (j *ReportWarmJob) Type() string { return WarmJobType }

func (j *ReportWarmJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[WarmPayload](payload)
	if err != nil {
		return err
	}
	report, err := j.reports.Build(ctx, models.ReportFilter{Category: p.Category})
	if err != nil {
		if apperrors.IsNotFound(err) || apperrors.IsValidation(err) {
			j.log.Warn("skip report warm-up", logger.String("category", p.Category), logger.Error(err))
			return nil
		}
		return err
	}
	j.log.Debug("report warmed",
		logger.String("category", p.Category),
		logger.Int("rows", len(report.Rows)),
		logger.Uint64("catalog_version", report.CatalogVersion),
	)
	return nil
}

var (
	_ queue.Job       = (*ReportWarmJob)(nil)
	_ queue.Coalescer = WarmPayload{}
)
