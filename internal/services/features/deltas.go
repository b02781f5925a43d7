package features

import "MarketLens/internal/domain/models"

// TradeDeltas returns the raw total_trades change of each point against the
// previous one. Index 0 has no predecessor and is 0. Values may be negative.
func TradeDeltas(points []models.MarketSnapshot) []int64 {
	out := make([]int64, len(points))
	for i := 1; i < len(points); i++ {
		out[i] = points[i].TotalTrades - points[i-1].TotalTrades
	}
	return out
}

// StockDeltas returns the absolute current_stock change of each point
// against the previous one. Index 0 is 0.
func StockDeltas(points []models.MarketSnapshot) []int64 {
	out := make([]int64, len(points))
	for i := 1; i < len(points); i++ {
		d := points[i].CurrentStock - points[i-1].CurrentStock
		if d < 0 {
			d = -d
		}
		out[i] = d
	}
	return out
}

// TrailingMean averages deltas[i-lookback:i], skipping index 0 which has no
// predecessor. It returns the mean and the number of samples used.
func TrailingMean(deltas []int64, i, lookback int) (float64, int) {
	if i <= 1 || lookback <= 0 {
		return 0, 0
	}
	from := i - lookback
	if from < 1 {
		from = 1
	}
	var sum int64
	n := 0
	for j := from; j < i && j < len(deltas); j++ {
		sum += deltas[j]
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return float64(sum) / float64(n), n
}
