package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	reports     *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	ingested    *prometheus.CounterVec
	dataQuality *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		reports: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_reports_total",
				Help: "Reports built by category and shape",
			},
			[]string{"category", "shape"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_ingested_rows_total",
				Help: "Snapshot rows persisted by category",
			},
			[]string{"category"},
		),
		dataQuality: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_data_quality_warnings_total",
				Help: "Data quality warnings attached to reports",
			},
			[]string{"kind"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketlens_last_price",
				Help: "Last reported price per item level",
			},
			[]string{"item"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketlens_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordReport counts a built report.
func (r *Recorder) RecordReport(category, shape string) {
	r.reports.WithLabelValues(category, shape).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordIngested counts persisted snapshot rows.
func (r *Recorder) RecordIngested(category string, rows int) {
	r.ingested.WithLabelValues(category).Add(float64(rows))
}

// RecordDataQuality counts a data quality warning.
func (r *Recorder) RecordDataQuality(kind string) {
	r.dataQuality.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price of an item level.
func (r *Recorder) RecordLastPrice(item string, price float64) {
	r.lastPrice.WithLabelValues(item).Set(price)
}
