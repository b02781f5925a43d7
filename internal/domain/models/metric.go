package models

import "time"

// WarningKind names a data quality problem found in a series.
type WarningKind string

const (
	WarningCounterRegression WarningKind = "counter_regression"
	WarningStockSpike        WarningKind = "stock_spike"
)

// DataQualityWarning is a non-fatal finding attached to a record.
type DataQualityWarning struct {
	Kind      WarningKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
}

// DerivedMetric is the computed state of one item level at its latest scrape.
// Nil pointers mean the value is undefined and omitted from output.
type DerivedMetric struct {
	Item         Item
	ScrapeTime   time.Time
	Price        *int64
	Profit       *int64
	RateOfReturn *float64
	InStock      int64
}

// TrendPoint is one day of an item level's trend.
type TrendPoint struct {
	Timestamp time.Time     `json:"timestamp"`
	Price     *int64        `json:"price,omitempty"`
	Stock     int64         `json:"stock"`
	Volume    int64         `json:"volume"`
	Anomaly   bool          `json:"anomaly,omitempty"`
	Flags     []WarningKind `json:"flags,omitempty"`
}

// Trend is the computed series of one item level.
type Trend struct {
	Points   []TrendPoint
	Warnings []DataQualityWarning
}
