package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"MarketLens/internal/domain/models"
	domsvc "MarketLens/internal/domain/service"
)

// rateOfReturnPlaces is the rounding of the rate of return.
const rateOfReturnPlaces = 4

// Engine computes derived metrics from already fetched snapshots.
// It is stateless and safe for concurrent use.
type Engine struct {
	detector *SpikeDetector
}

type EngineOption func(*Engine)

// WithDetector replaces the default spike detector.
func WithDetector(d *SpikeDetector) EngineOption {
	return func(e *Engine) {
		if d != nil {
			e.detector = d
		}
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{detector: NewSpikeDetector(0, 0, 0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FamilyMetrics computes the latest metric of each level of f, ascending by
// sid. Levels without points are skipped.
func (e *Engine) FamilyMetrics(f models.Family, pinned bool) []models.DerivedMetric {
	out := make([]models.DerivedMetric, 0, len(f.Levels))
	for _, lvl := range f.Levels {
		cur, ok := lvl.Latest()
		if !ok {
			continue
		}
		m := models.DerivedMetric{
			Item:       lvl.Item,
			ScrapeTime: cur.ScrapeTime,
			Price:      Price(cur),
			InStock:    cur.CurrentStock,
		}
		if !pinned && lvl.Item.SID > models.MinSID {
			if lower, ok := f.Level(lvl.Item.SID - 1); ok {
				if prev, ok := NearestPrior(lower.Points, cur.ScrapeTime); ok {
					m.Profit, m.RateOfReturn = ProfitAndReturn(cur, prev)
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// Trend computes one level's trend. Points before emitFrom are baseline:
// they seed the first emitted volume and are not emitted themselves.
func (e *Engine) Trend(points []models.MarketSnapshot, emitFrom time.Time) models.Trend {
	flags := e.detector.Flags(points)
	trend := models.Trend{Points: make([]models.TrendPoint, 0, len(points))}
	for i, p := range points {
		if p.ScrapeTime.Before(emitFrom) {
			continue
		}
		tp := models.TrendPoint{
			Timestamp: p.ScrapeTime,
			Price:     Price(p),
			Stock:     p.CurrentStock,
		}
		if len(flags[i]) > 0 {
			tp.Anomaly = true
			tp.Flags = flags[i]
			for _, k := range flags[i] {
				trend.Warnings = append(trend.Warnings, e.detector.warning(points, i, k))
			}
		} else if i > 0 {
			tp.Volume = points[i].TotalTrades - points[i-1].TotalTrades
		}
		trend.Points = append(trend.Points, tp)
	}
	return trend
}

// Price returns the last sold price, nil when the item never sold.
func Price(s models.MarketSnapshot) *int64 {
	if s.LastSoldPrice <= 0 {
		return nil
	}
	p := s.LastSoldPrice
	return &p
}

// NearestPrior returns the latest point at or before t.
func NearestPrior(points []models.MarketSnapshot, t time.Time) (models.MarketSnapshot, bool) {
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].ScrapeTime.After(t) {
			return points[i], true
		}
	}
	return models.MarketSnapshot{}, false
}

// ProfitAndReturn computes the upgrade profit of cur over its lower level
// prev. Both are nil unless both levels have sold.
func ProfitAndReturn(cur, prev models.MarketSnapshot) (*int64, *float64) {
	if cur.LastSoldPrice <= 0 || prev.LastSoldPrice <= 0 {
		return nil, nil
	}
	profit := cur.LastSoldPrice - prev.LastSoldPrice
	ror := RateOfReturn(profit, prev.LastSoldPrice)
	return &profit, ror
}

// RateOfReturn returns profit/cost rounded to four places, nil when cost is
// not positive.
func RateOfReturn(profit, cost int64) *float64 {
	if cost <= 0 {
		return nil
	}
	r := decimal.NewFromInt(profit).
		DivRound(decimal.NewFromInt(cost), rateOfReturnPlaces).
		InexactFloat64()
	return &r
}

var _ domsvc.MetricEngine = (*Engine)(nil)
