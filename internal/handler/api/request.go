package api

import (
	"encoding/json"
	"strings"

	"MarketLens/internal/domain/models"
	apperrors "MarketLens/internal/errors"
)

// FilterRequest is the wire form of a report filter. Numeric fields accept
// JSON numbers or numeric strings.
type FilterRequest struct {
	ItemCategory string      `json:"itemCategory" query:"itemCategory" validate:"required"`
	ItemID       json.Number `json:"itemID" query:"itemID" validate:"omitempty,numeric"`
	ItemSID      json.Number `json:"itemSID" query:"itemSID" validate:"omitempty,numeric"`
	IntervalDay  json.Number `json:"intervalDay" query:"intervalDay" validate:"omitempty,numeric"`
}

// ToFilter converts the request into a typed filter. Range checks are left
// to ReportFilter.Validate.
func (r *FilterRequest) ToFilter() (models.ReportFilter, error) {
	f := models.ReportFilter{Category: strings.TrimSpace(r.ItemCategory)}

	if r.ItemID != "" {
		v, err := r.ItemID.Int64()
		if err != nil {
			return f, apperrors.NewValidationError("itemID", "itemID must be an integer, got %q", r.ItemID.String())
		}
		f.ItemID = &v
	}
	if r.ItemSID != "" {
		v, err := r.ItemSID.Int64()
		if err != nil {
			return f, apperrors.NewValidationError("itemSID", "itemSID must be an integer, got %q", r.ItemSID.String())
		}
		sid := int(v)
		f.SID = &sid
	}
	if r.IntervalDay != "" {
		v, err := r.IntervalDay.Int64()
		if err != nil {
			return f, apperrors.NewValidationError("intervalDay", "intervalDay must be an integer, got %q", r.IntervalDay.String())
		}
		days := int(v)
		f.IntervalDay = &days
	}
	return f, nil
}

// ExportRequest adds a row cap to the filter of an export. An absent or zero
// limit falls back to the default.
type ExportRequest struct {
	FilterRequest
	Limit int `json:"limit" query:"limit" default:"500" validate:"min=1,max=5000"`
}
