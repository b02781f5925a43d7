package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"MarketLens/internal/domain/models"
	apperrors "MarketLens/internal/errors"
	"MarketLens/internal/service/broadcast"
	xlogger "MarketLens/pkg/logger"
)

var handlerNow = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

type fakeReports struct {
	catalog *models.Catalog
	report  *models.Report
	err     error
	got     []models.ReportFilter
}

func (f *fakeReports) Build(_ context.Context, filter models.ReportFilter) (*models.Report, error) {
	f.got = append(f.got, filter)
	if f.err != nil {
		return nil, f.err
	}
	r := *f.report
	r.ItemCategory = filter.Category
	r.IntervalDay = filter.IntervalDay
	return &r, nil
}

func (f *fakeReports) Catalog() *models.Catalog { return f.catalog }

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }

func newFixture(t *testing.T) (*echo.Echo, *fakeReports) {
	t.Helper()
	reports := &fakeReports{
		catalog: models.NewCatalog(2, handlerNow, []models.Item{
			{ItemID: 11653, SID: 0, Name: "Ring", Category: "Accessory"},
			{ItemID: 11653, SID: 1, Name: "Ring", Category: "Accessory"},
		}),
		report: &models.Report{
			CatalogVersion: 2,
			GeneratedAt:    handlerNow,
			Rows: []models.RankedRow{{
				Name: "Ring", ItemID: 11653, SID: 1, Category: "Accessory",
				Price: int64p(240), Profit: int64p(40), RateOfReturn: float64p(0.2),
				InStock: 2, ScrapeTime: handlerNow,
			}},
		},
	}
	e := echo.New()
	NewMarketHandler(xlogger.Nop(), reports, broadcast.NewHub(nil), fakeHealth{}, nil).RegisterRoutes(e)
	return e, reports
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestItems_GetQueryParams(t *testing.T) {
	e, reports := newFixture(t)
	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/items?itemCategory=Accessory&itemID=11653", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, reports.got, 1)
	assert.Equal(t, "Accessory", reports.got[0].Category)
	assert.Equal(t, int64(11653), *reports.got[0].ItemID)
	assert.Nil(t, reports.got[0].SID)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "Accessory", report["itemCategory"])
	assert.Len(t, report["rows"], 1)
	assert.NotContains(t, report, "items")
}

func TestItems_PostAcceptsNumericStrings(t *testing.T) {
	e, reports := newFixture(t)
	body := `{"itemCategory":"Accessory","itemID":"11653","itemSID":1,"intervalDay":"7"}`
	req := httptest.NewRequest(http.MethodPost, "/api/market/query", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec, env := serve(e, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f := reports.got[0]
	assert.Equal(t, int64(11653), *f.ItemID)
	assert.Equal(t, 1, *f.SID)
	assert.Equal(t, 7, *f.IntervalDay)
	assert.Contains(t, string(env.Data), `"items":[]`)
}

func TestItems_RequestErrors(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		status int
		field  string
	}{
		{"missing category", "/api/market/items", http.StatusBadRequest, "itemCategory"},
		{"non numeric id", "/api/market/items?itemCategory=Accessory&itemID=abc", http.StatusBadRequest, "itemID"},
		{"fractional sid", "/api/market/items?itemCategory=Accessory&itemSID=1.5", http.StatusBadRequest, "itemSID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, reports := newFixture(t)
			rec, env := serve(e, httptest.NewRequest(http.MethodGet, tc.url, nil))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.status, env.Status)
			assert.Contains(t, string(env.Data), `"field":"`+tc.field+`"`)
			assert.Empty(t, reports.got)
		})
	}
}

func TestItems_DomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.NewValidationError("itemSID", "itemSID must be within [0,5], got 9"), http.StatusBadRequest, "INVALID_FILTER"},
		{apperrors.NewNotFoundError("category", "Hats").WithDetail("catalog_version", 2), http.StatusNotFound, "NOT_FOUND"},
		{apperrors.NewUpstreamUnavailable("fetch snapshots", errors.New("conn refused")), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{fmt.Errorf("wait for report: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "REQUEST_TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			e, reports := newFixture(t)
			reports.err = tc.err
			rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/items?itemCategory=Accessory", nil))
			assert.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				assert.Contains(t, string(env.Data), `"code":"`+tc.code+`"`)
			}
		})
	}
}

func TestItems_NotFoundCarriesCatalogVersion(t *testing.T) {
	e, reports := newFixture(t)
	reports.err = apperrors.NewNotFoundError("category", "Hats").WithDetail("catalog_version", uint64(2))
	_, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/items?itemCategory=Hats", nil))
	assert.Contains(t, string(env.Data), `"catalog_version":2`)
}

func TestCategories(t *testing.T) {
	e, _ := newFixture(t)
	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"catalog_version":2,"categories":["Accessory"]}`, string(env.Data))
}

func TestExport_Workbook(t *testing.T) {
	e, _ := newFixture(t)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/market/items/export?itemCategory=Accessory", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "marketlens-Accessory.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Accessory")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Name", "Item ID", "SID", "Price", "Profit", "Rate of Return", "In Stock"}, rows[0])
	assert.Equal(t, []string{"Ring", "11653", "1", "240", "40", "0.2", "2"}, rows[1])
}

func TestExport_RejectsInterval(t *testing.T) {
	e, reports := newFixture(t)
	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/items/export?itemCategory=Accessory&intervalDay=3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), `"field":"intervalDay"`)
	assert.Empty(t, reports.got)
}

func TestExport_LimitCapsRows(t *testing.T) {
	e, reports := newFixture(t)
	first := reports.report.Rows[0]
	second := first
	second.SID = 0
	reports.report.Rows = []models.RankedRow{first, second}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/market/items/export?itemCategory=Accessory&limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Accessory")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[1][2])
}

func TestExport_RejectsLimitAboveMax(t *testing.T) {
	e, reports := newFixture(t)
	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/items/export?itemCategory=Accessory&limit=9000", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), `"code":"ERR_MAX"`)
	assert.Empty(t, reports.got)
}

func TestRankedWorkbook_AbsentValuesAreBlank(t *testing.T) {
	body, err := RankedWorkbook("Main/Weapon", []models.RankedRow{{Name: "Sword", ItemID: 1, SID: 5, InStock: 0}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Main_Weapon")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][3])
	assert.Equal(t, "0", rows[1][6])
}

func TestHealth(t *testing.T) {
	e, _ := newFixture(t)
	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := echo.New()
	NewMarketHandler(xlogger.Nop(), &fakeReports{}, nil, fakeHealth{err: errors.New("down")}, nil).RegisterRoutes(down)
	rec, env := serve(down, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_SERVICE_UNAVAILABLE")
}

func TestStream_UnknownCategory(t *testing.T) {
	e, _ := newFixture(t)
	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/api/market/stream?itemCategory=Hats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(env.Data), `"catalog_version":2`)
}
