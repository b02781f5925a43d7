package models

import (
	"sort"
	"time"
)

// MarketScrape is one polling event against the upstream market.
type MarketScrape struct {
	ID         int64
	Endpoint   string
	ScrapeTime time.Time
}

// MarketSnapshot is one item level's observed state at one scrape.
type MarketSnapshot struct {
	Item          Item
	ScrapeID      int64
	ScrapeTime    time.Time
	CurrentStock  int64
	TotalTrades   int64
	LastSoldPrice int64
	LastSoldTime  *time.Time
}

// Series is the ordered snapshot history of one item level.
type Series struct {
	Item   Item
	Points []MarketSnapshot // ascending by ScrapeTime
}

// Latest returns the most recent point of the series.
func (s Series) Latest() (MarketSnapshot, bool) {
	if len(s.Points) == 0 {
		return MarketSnapshot{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Family groups every fetched level of one item, ascending by sid.
type Family struct {
	ItemID int64
	Levels []Series
}

// Level returns the series for sid, if fetched.
func (f Family) Level(sid int) (Series, bool) {
	for _, s := range f.Levels {
		if s.Item.SID == sid {
			return s, true
		}
	}
	return Series{}, false
}

// GroupFamilies splits snapshots into per-item families. Families are
// ordered by item_id, levels by sid and points by scrape time.
func GroupFamilies(snaps []MarketSnapshot) []Family {
	byKey := make(map[ItemKey]*Series)
	for _, s := range snaps {
		k := s.Item.Key()
		ser, ok := byKey[k]
		if !ok {
			ser = &Series{Item: s.Item}
			byKey[k] = ser
		}
		ser.Points = append(ser.Points, s)
	}

	byItem := make(map[int64]*Family)
	for _, ser := range byKey {
		sort.SliceStable(ser.Points, func(i, j int) bool {
			return ser.Points[i].ScrapeTime.Before(ser.Points[j].ScrapeTime)
		})
		fam, ok := byItem[ser.Item.ItemID]
		if !ok {
			fam = &Family{ItemID: ser.Item.ItemID}
			byItem[ser.Item.ItemID] = fam
		}
		fam.Levels = append(fam.Levels, *ser)
	}

	out := make([]Family, 0, len(byItem))
	for _, fam := range byItem {
		sort.Slice(fam.Levels, func(i, j int) bool {
			return fam.Levels[i].Item.SID < fam.Levels[j].Item.SID
		})
		out = append(out, *fam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}
