package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

// MessageTypeReport tags pushed report frames.
const MessageTypeReport = "report"

// Message is the frame written to stream subscribers.
type Message struct {
	Type string         `json:"type"`
	Data *models.Report `json:"data"`
}

// ReportBuilder builds a report for a filter.
type ReportBuilder interface {
	Build(ctx context.Context, filter models.ReportFilter) (*models.Report, error)
}

// ReportStreamNotifier rebuilds a category's ranked report after ingestion
// and pushes it to the hub.
type ReportStreamNotifier struct {
	hub     *Hub
	reports ReportBuilder
	log     *logger.Logger
	timeout time.Duration
	wait    func(func())
}

func NewReportStreamNotifier(hub *Hub, reports ReportBuilder, log *logger.Logger, timeout time.Duration) *ReportStreamNotifier {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReportStreamNotifier{
		hub:     hub,
		reports: reports,
		log:     log,
		timeout: timeout,
		wait:    func(f func()) { go f() },
	}
}

// Notify schedules a push when category has subscribers.
func (n *ReportStreamNotifier) Notify(category string) {
	if n.hub.Count(category) == 0 {
		return
	}
	n.wait(func() { n.push(category) })
}

func (n *ReportStreamNotifier) push(category string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	report, err := n.reports.Build(ctx, models.ReportFilter{Category: category})
	if err != nil {
		n.log.Error("stream report build failed", logger.String("category", category), logger.Error(err))
		return
	}
	msg, err := json.Marshal(Message{Type: MessageTypeReport, Data: report})
	if err != nil {
		n.log.Error("stream report encode failed", logger.String("category", category), logger.Error(err))
		return
	}
	delivered := n.hub.Publish(category, msg)
	n.log.Debug("stream report pushed", logger.String("category", category), logger.Int("subscribers", delivered))
}

var _ drepo.ReportNotifier = (*ReportStreamNotifier)(nil)
