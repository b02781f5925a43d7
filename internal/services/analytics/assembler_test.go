package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/internal/domain/models"
)

func accessoryFamilies() []models.Family {
	snap := func(id int64, sid int, price int64) models.MarketSnapshot {
		return models.MarketSnapshot{
			Item:          models.Item{ItemID: id, SID: sid, Name: "acc", Category: "Accessory"},
			ScrapeTime:    day0,
			LastSoldPrice: price,
			CurrentStock:  1,
		}
	}
	return models.GroupFamilies([]models.MarketSnapshot{
		snap(300, 0, 10),
		snap(300, 1, 40), // ror 3
		snap(100, 0, 50),
		snap(100, 1, 100), // ror 1
		snap(200, 0, 25),
		snap(200, 1, 100), // ror 3
		snap(400, 2, 90),  // no lower level fetched
		snap(500, 0, 0),   // unsold
	})
}

func rankedKeys(rows []models.RankedRow) []models.ItemKey {
	out := make([]models.ItemKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ItemKey{ItemID: r.ItemID, SID: r.SID})
	}
	return out
}

func TestAssemble_RankedOrdering(t *testing.T) {
	e := NewEngine()
	var results []FamilyResult
	for _, f := range accessoryFamilies() {
		results = append(results, BuildFamily(e, f, false, nil))
	}
	filter := models.ReportFilter{Category: "Accessory"}

	report := Assemble(filter, 1, day0, results)

	assert.Nil(t, report.Items)
	assert.Equal(t, []models.ItemKey{
		{ItemID: 200, SID: 1}, // ror 3, lower id
		{ItemID: 300, SID: 1}, // ror 3
		{ItemID: 100, SID: 1}, // ror 1
		{ItemID: 400, SID: 2}, // price 90
		{ItemID: 100, SID: 0}, // price 50
		{ItemID: 200, SID: 0}, // price 25
		{ItemID: 300, SID: 0}, // price 10
		{ItemID: 500, SID: 0}, // unsold
	}, rankedKeys(report.Rows))
}

func TestAssemble_DeterministicAcrossCompletionOrder(t *testing.T) {
	e := NewEngine()
	fams := accessoryFamilies()
	filter := models.ReportFilter{Category: "Accessory"}

	var forward, backward []FamilyResult
	for _, f := range fams {
		forward = append(forward, BuildFamily(e, f, false, nil))
	}
	for i := len(fams) - 1; i >= 0; i-- {
		backward = append(backward, BuildFamily(e, fams[i], false, nil))
	}

	assert.Equal(t, Assemble(filter, 1, day0, forward), Assemble(filter, 1, day0, backward))
}

func TestAssemble_TrendRowsOrderedByItemThenSID(t *testing.T) {
	e := NewEngine()
	mk := func(id int64, sid int) []models.MarketSnapshot {
		item := models.Item{ItemID: id, SID: sid, Category: "Weapon"}
		return daily(item, []int64{5, 6, 7}, []int64{1, 1, 1}, []int64{1, 2, 3}).Points
	}
	var snaps []models.MarketSnapshot
	snaps = append(snaps, mk(20, 1)...)
	snaps = append(snaps, mk(10, 2)...)
	snaps = append(snaps, mk(20, 0)...)
	snaps = append(snaps, mk(10, 0)...)

	emitFrom := day0.AddDate(0, 0, 1)
	var results []FamilyResult
	for _, f := range models.GroupFamilies(snaps) {
		results = append(results, BuildFamily(e, f, false, &emitFrom))
	}
	days := 2
	report := Assemble(models.ReportFilter{Category: "Weapon", IntervalDay: &days}, 4, day0, results)

	require.Len(t, report.Items, 4)
	assert.Nil(t, report.Rows)
	var got []models.ItemKey
	for _, it := range report.Items {
		got = append(got, it.Item.Key())
		assert.Len(t, it.Trend, 2)
		assert.Equal(t, []int64{1, 1}, []int64{it.Trend[0].Volume, it.Trend[1].Volume})
	}
	assert.Equal(t, []models.ItemKey{{ItemID: 10, SID: 0}, {ItemID: 10, SID: 2}, {ItemID: 20, SID: 0}, {ItemID: 20, SID: 1}}, got)
}

func TestAssemble_EmptyReportMarshalsEmptyList(t *testing.T) {
	report := Assemble(models.ReportFilter{Category: "Accessory"}, 2, time.Unix(0, 0).UTC(), nil)

	b, err := report.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"itemCategory":"Accessory","catalog_version":2,"generated_at":"1970-01-01T00:00:00Z","rows":[]}`, string(b))
}
