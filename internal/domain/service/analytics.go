package service

import (
	"time"

	"MarketLens/internal/domain/models"
)

// MetricEngine computes derived metrics for one item family. It performs no I/O.
type MetricEngine interface {
	// FamilyMetrics returns one metric per level, ascending by sid.
	// pinned suppresses profit and rate of return.
	FamilyMetrics(f models.Family, pinned bool) []models.DerivedMetric
	// Trend computes the trend of one level. Points before emitFrom only
	// seed the first volume.
	Trend(points []models.MarketSnapshot, emitFrom time.Time) models.Trend
}

// AnomalyDetector flags anomalous points of a series.
type AnomalyDetector interface {
	Detect(points []models.MarketSnapshot) []models.DataQualityWarning
}
