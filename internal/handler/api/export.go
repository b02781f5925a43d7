package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"MarketLens/internal/domain/models"
	apperrors "MarketLens/internal/errors"
	xhttp "MarketLens/pkg/http"
	xlogger "MarketLens/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var exportHeader = []interface{}{"Name", "Item ID", "SID", "Price", "Profit", "Rate of Return", "In Stock"}

// Export returns the first limit ranked rows of a filter as an XLSX workbook.
func (h *MarketHandler) Export(c echo.Context) error {
	req := &ExportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	filter, err := req.ToFilter()
	if err == nil && filter.HasInterval() {
		err = apperrors.NewValidationError("intervalDay", "intervalDay is not supported for export")
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	report, err := h.reports.Build(c.Request().Context(), filter)
	if err != nil {
		h.logError("export build error", filter, err)
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	rows := report.Rows
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	body, err := RankedWorkbook(filter.Category, rows)
	if err != nil {
		h.logger.Error("export encode error", xlogger.String("category", filter.Category), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("export failed").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="marketlens-%s.xlsx"`, sheetName(filter.Category)))
	return c.Blob(http.StatusOK, xlsxContentType, body)
}

// RankedWorkbook renders rows into a single-sheet workbook named after the
// category.
func RankedWorkbook(category string, rows []models.RankedRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(category)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	header := exportHeader
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{r.Name, r.ItemID, r.SID, optional(r.Price), optional(r.Profit), optional(r.RateOfReturn), r.InStock}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func optional[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// sheetName strips characters Excel rejects and caps the length at 31.
func sheetName(category string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']', '"':
			return '_'
		}
		return r
	}, strings.TrimSpace(category))
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	if name == "" {
		return "report"
	}
	return name
}
