package repository

import (
	"sort"

	"MarketLens/internal/domain/models"
)

// MergeSnapshots joins snapshot sets into one list ordered by item_id, sid
// and scrape time. A level seen twice at the same scrape time is kept once.
func MergeSnapshots(sets ...[]models.MarketSnapshot) []models.MarketSnapshot {
	type seenKey struct {
		level models.ItemKey
		at    int64
	}
	n := 0
	for _, set := range sets {
		n += len(set)
	}
	seen := make(map[seenKey]struct{}, n)
	out := make([]models.MarketSnapshot, 0, n)
	for _, set := range sets {
		for _, s := range set {
			k := seenKey{s.Item.Key(), s.ScrapeTime.UnixNano()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Item.ItemID != b.Item.ItemID {
			return a.Item.ItemID < b.Item.ItemID
		}
		if a.Item.SID != b.Item.SID {
			return a.Item.SID < b.Item.SID
		}
		return a.ScrapeTime.Before(b.ScrapeTime)
	})
	return out
}
