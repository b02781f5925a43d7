package analytics

import (
	"sort"
	"time"

	"MarketLens/internal/domain/models"
	domsvc "MarketLens/internal/domain/service"
)

// FamilyResult is the computed output of one item family.
type FamilyResult struct {
	Rows   []models.RankedRow
	Trends []models.TrendRow
}

// BuildFamily runs the engine over one family. With a window, a trend row is
// produced per level; otherwise one ranked row per level.
func BuildFamily(e domsvc.MetricEngine, f models.Family, pinned bool, emitFrom *time.Time) FamilyResult {
	metrics := e.FamilyMetrics(f, pinned)
	var res FamilyResult
	for _, m := range metrics {
		row := RankedRowOf(m)
		if emitFrom == nil {
			res.Rows = append(res.Rows, row)
			continue
		}
		lvl, _ := f.Level(m.Item.SID)
		trend := e.Trend(lvl.Points, *emitFrom)
		if len(trend.Points) == 0 {
			continue
		}
		row.Warnings = trend.Warnings
		res.Trends = append(res.Trends, models.TrendRow{
			Item:     m.Item,
			Metric:   row,
			Trend:    trend.Points,
			Warnings: trend.Warnings,
		})
	}
	return res
}

// RankedRowOf flattens a metric into a ranked row.
func RankedRowOf(m models.DerivedMetric) models.RankedRow {
	return models.RankedRow{
		Name:         m.Item.Name,
		ItemID:       m.Item.ItemID,
		SID:          m.Item.SID,
		Category:     m.Item.Category,
		Price:        m.Price,
		Profit:       m.Profit,
		RateOfReturn: m.RateOfReturn,
		InStock:      m.InStock,
		ScrapeTime:   m.ScrapeTime,
	}
}

// Assemble merges family results into a report ordered deterministically.
func Assemble(filter models.ReportFilter, catalogVersion uint64, generatedAt time.Time, results []FamilyResult) models.Report {
	r := models.Report{
		ItemCategory:   filter.Category,
		ItemID:         filter.ItemID,
		ItemSID:        filter.SID,
		IntervalDay:    filter.IntervalDay,
		CatalogVersion: catalogVersion,
		GeneratedAt:    generatedAt,
	}
	for _, res := range results {
		r.Rows = append(r.Rows, res.Rows...)
		r.Items = append(r.Items, res.Trends...)
	}
	if filter.HasInterval() {
		r.Rows = nil
		SortTrend(r.Items)
	} else {
		r.Items = nil
		SortRanked(r.Rows)
	}
	return r
}

// SortRanked orders rows by rate of return descending where computable,
// then price descending, then item_id and sid ascending. Rows with a rate
// of return come first.
func SortRanked(rows []models.RankedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		aR, bR := a.RateOfReturn != nil, b.RateOfReturn != nil
		if aR != bR {
			return aR
		}
		if aR && *a.RateOfReturn != *b.RateOfReturn {
			return *a.RateOfReturn > *b.RateOfReturn
		}
		if !aR {
			ap, bp := priceOrNone(a.Price), priceOrNone(b.Price)
			if ap != bp {
				return ap > bp
			}
		}
		return keyLess(a.ItemID, a.SID, b.ItemID, b.SID)
	})
}

// SortTrend orders trend rows by item_id then sid.
func SortTrend(rows []models.TrendRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return keyLess(rows[i].Item.ItemID, rows[i].Item.SID, rows[j].Item.ItemID, rows[j].Item.SID)
	})
}

func keyLess(aID int64, aSID int, bID int64, bSID int) bool {
	if aID != bID {
		return aID < bID
	}
	return aSID < bSID
}

func priceOrNone(p *int64) int64 {
	if p == nil {
		return -1
	}
	return *p
}
