package models

import (
	"encoding/json"
	"time"
)

// RankedRow is one item level of the current-state report.
type RankedRow struct {
	Name         string               `json:"name"`
	ItemID       int64                `json:"item_id"`
	SID          int                  `json:"sid"`
	Category     string               `json:"category"`
	Price        *int64               `json:"price,omitempty"`
	Profit       *int64               `json:"profit,omitempty"`
	RateOfReturn *float64             `json:"rate_of_return,omitempty"`
	InStock      int64                `json:"in_stock"`
	ScrapeTime   time.Time            `json:"scrape_time"`
	Warnings     []DataQualityWarning `json:"warnings,omitempty"`
}

// TrendRow is one item level of the interval report.
type TrendRow struct {
	Item     Item                 `json:"item"`
	Metric   RankedRow            `json:"metric"`
	Trend    []TrendPoint         `json:"trend"`
	Warnings []DataQualityWarning `json:"warnings,omitempty"`
}

// Report is the assembled answer to a ReportFilter. Exactly one of Rows
// and Items is populated, keyed by the presence of IntervalDay.
type Report struct {
	ItemCategory   string      `json:"itemCategory"`
	ItemID         *int64      `json:"itemID,omitempty"`
	ItemSID        *int        `json:"itemSID,omitempty"`
	IntervalDay    *int        `json:"intervalDay,omitempty"`
	CatalogVersion uint64      `json:"catalog_version"`
	GeneratedAt    time.Time   `json:"generated_at"`
	Rows           []RankedRow `json:"rows,omitempty"`
	Items          []TrendRow  `json:"items,omitempty"`
}

type reportHeader struct {
	ItemCategory   string    `json:"itemCategory"`
	ItemID         *int64    `json:"itemID,omitempty"`
	ItemSID        *int      `json:"itemSID,omitempty"`
	IntervalDay    *int      `json:"intervalDay,omitempty"`
	CatalogVersion uint64    `json:"catalog_version"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// MarshalJSON emits rows for the ranked shape and items for the trend shape.
// An empty result is an empty list, never null.
func (r Report) MarshalJSON() ([]byte, error) {
	h := reportHeader{
		ItemCategory:   r.ItemCategory,
		ItemID:         r.ItemID,
		ItemSID:        r.ItemSID,
		IntervalDay:    r.IntervalDay,
		CatalogVersion: r.CatalogVersion,
		GeneratedAt:    r.GeneratedAt,
	}
	if r.IntervalDay != nil {
		items := r.Items
		if items == nil {
			items = []TrendRow{}
		}
		return json.Marshal(struct {
			reportHeader
			Items []TrendRow `json:"items"`
		}{h, items})
	}
	rows := r.Rows
	if rows == nil {
		rows = []RankedRow{}
	}
	return json.Marshal(struct {
		reportHeader
		Rows []RankedRow `json:"rows"`
	}{h, rows})
}

// Filter rebuilds the filter the report answers.
func (r Report) Filter() ReportFilter {
	return ReportFilter{
		Category:    r.ItemCategory,
		ItemID:      r.ItemID,
		SID:         r.ItemSID,
		IntervalDay: r.IntervalDay,
	}
}
