package analytics

import (
	"fmt"
	"math"

	"MarketLens/internal/domain/models"
	domsvc "MarketLens/internal/domain/service"
	"MarketLens/internal/services/features"
)

// Default stock spike thresholds.
const (
	DefaultSpikeMultiple   = 5.0
	DefaultSpikeLookback   = 7
	DefaultSpikeMinHistory = 2
)

// SpikeDetector flags counter regressions and stock spikes. A stock spike is
// a change larger than Multiple times the trailing mean absolute change over
// Lookback points, once MinHistory changes have been seen.
type SpikeDetector struct {
	Multiple   float64
	Lookback   int
	MinHistory int
}

func NewSpikeDetector(multiple float64, lookback, minHistory int) *SpikeDetector {
	d := &SpikeDetector{
		Multiple:   DefaultSpikeMultiple,
		Lookback:   DefaultSpikeLookback,
		MinHistory: DefaultSpikeMinHistory,
	}
	if multiple > 0 {
		d.Multiple = multiple
	}
	if lookback > 0 {
		d.Lookback = lookback
	}
	if minHistory > 0 {
		d.MinHistory = minHistory
	}
	return d
}

// Flags returns the warning kinds raised at each point.
func (d *SpikeDetector) Flags(points []models.MarketSnapshot) [][]models.WarningKind {
	out := make([][]models.WarningKind, len(points))
	trades := features.TradeDeltas(points)
	stock := features.StockDeltas(points)
	for i := 1; i < len(points); i++ {
		if trades[i] < 0 {
			out[i] = append(out[i], models.WarningCounterRegression)
		}
		mean, n := features.TrailingMean(stock, i, d.Lookback)
		if n >= d.MinHistory && mean > 0 && float64(stock[i]) > d.Multiple*mean {
			out[i] = append(out[i], models.WarningStockSpike)
		}
	}
	return out
}

// Detect implements domsvc.AnomalyDetector.
func (d *SpikeDetector) Detect(points []models.MarketSnapshot) []models.DataQualityWarning {
	flags := d.Flags(points)
	var out []models.DataQualityWarning
	for i, kinds := range flags {
		for _, k := range kinds {
			out = append(out, d.warning(points, i, k))
		}
	}
	return out
}

func (d *SpikeDetector) warning(points []models.MarketSnapshot, i int, kind models.WarningKind) models.DataQualityWarning {
	cur, prev := points[i], points[i-1]
	w := models.DataQualityWarning{Kind: kind, Timestamp: cur.ScrapeTime}
	switch kind {
	case models.WarningCounterRegression:
		w.Message = fmt.Sprintf("total_trades fell from %d to %d", prev.TotalTrades, cur.TotalTrades)
	case models.WarningStockSpike:
		change := cur.CurrentStock - prev.CurrentStock
		w.Message = fmt.Sprintf("current_stock changed by %d (x%.1f threshold)", int64(math.Abs(float64(change))), d.Multiple)
	}
	return w
}

var _ domsvc.AnomalyDetector = (*SpikeDetector)(nil)
