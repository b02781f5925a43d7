package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "MarketLens/internal/errors"
)

// ReportFilter is the validated four-field report request.
type ReportFilter struct {
	Category    string
	ItemID      *int64
	SID         *int
	IntervalDay *int
}

// HasInterval reports whether a trend was requested.
func (f ReportFilter) HasInterval() bool { return f.IntervalDay != nil }

// Pinned reports whether the filter selects a single level.
func (f ReportFilter) Pinned() bool { return f.SID != nil }

// Shape names the response shape of the filter.
func (f ReportFilter) Shape() string {
	if f.HasInterval() {
		return "trend"
	}
	return "ranked"
}

// Validate checks field ranges. maxInterval bounds intervalDay.
func (f ReportFilter) Validate(maxInterval int) error {
	if strings.TrimSpace(f.Category) == "" {
		return apperrors.NewValidationError("itemCategory", "itemCategory is required")
	}
	if f.ItemID != nil && *f.ItemID <= 0 {
		return apperrors.NewValidationError("itemID", "itemID must be positive, got %d", *f.ItemID)
	}
	if f.SID != nil && !ValidSID(*f.SID) {
		return apperrors.NewValidationError("itemSID", "itemSID must be within [%d,%d], got %d", MinSID, MaxSID, *f.SID)
	}
	if f.IntervalDay != nil {
		if *f.IntervalDay < 1 || (maxInterval > 0 && *f.IntervalDay > maxInterval) {
			return apperrors.NewValidationError("intervalDay", "intervalDay must be within [1,%d], got %d", maxInterval, *f.IntervalDay)
		}
	}
	return nil
}

// CacheKey builds the report cache key. Trend keys carry the UTC day since
// their window moves at midnight.
func (f ReportFilter) CacheKey(catalogVersion uint64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "report:v%d:%s", catalogVersion, f.Category)
	if f.ItemID != nil {
		fmt.Fprintf(&b, ":id=%d", *f.ItemID)
	}
	if f.SID != nil {
		fmt.Fprintf(&b, ":sid=%d", *f.SID)
	}
	if f.IntervalDay != nil {
		fmt.Fprintf(&b, ":days=%d:%s", *f.IntervalDay, now.UTC().Format("2006-01-02"))
	}
	return b.String()
}

// CategoryCachePatterns match every cached report of a category.
func CategoryCachePatterns(category string) []string {
	return []string{
		"report:v*:" + category,
		"report:v*:" + category + ":*",
	}
}
