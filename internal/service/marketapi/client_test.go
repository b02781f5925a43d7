package marketapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketLens/internal/domain/models"
	xhttp "MarketLens/pkg/http"
)

func newTestServer(t *testing.T, body string, status int) (*httptest.Server, *string) {
	t.Helper()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gotPath
}

func TestFetchItem_FlattensNestedLists(t *testing.T) {
	body := `[[{"id":11653,"sid":0,"name":"Ring","minEnhance":0,"maxEnhance":5,"basePrice":1,
		"currentStock":4,"totalTrades":120,"lastSoldPrice":100,"lastSoldTime":1709856000}],
		[{"id":11653,"sid":1,"name":"Ring","currentStock":2,"totalTrades":40,"lastSoldPrice":240,"lastSoldTime":0}]]`
	srv, gotPath := newTestServer(t, body, http.StatusOK)

	c := New(Config{BaseURL: srv.URL + "/", Version: "v2", Region: "eu", Endpoint: "/GetMarketSubList", Timeout: time.Second})
	rows, err := c.FetchItem(context.Background(), 11653)
	require.NoError(t, err)

	assert.Equal(t, "/v2/eu/GetMarketSubList?id=11653", *gotPath)
	assert.Equal(t, "/v2/eu/GetMarketSubList", c.Endpoint())
	require.Len(t, rows, 2)
	assert.Equal(t, models.ScrapedRow{
		ItemID: 11653, SID: 0, Name: "Ring",
		CurrentStock: 4, TotalTrades: 120, LastSoldPrice: 100, LastSoldTime: 1709856000,
	}, rows[0])
	assert.Nil(t, rows[1].SoldAt())
}

func TestFetchItem_SingleObject(t *testing.T) {
	srv, _ := newTestServer(t, `{"id":5,"sid":2,"name":"Belt","currentStock":1}`, http.StatusOK)
	rows, err := New(Config{BaseURL: srv.URL, Endpoint: "item"}).FetchItem(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].SID)
}

func TestFetchItem_UpstreamError(t *testing.T) {
	srv, _ := newTestServer(t, `boom`, http.StatusBadGateway)
	_, err := New(Config{BaseURL: srv.URL, Endpoint: "item"}).FetchItem(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")

	var se *xhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestFetchItem_RejectsScalars(t *testing.T) {
	srv, _ := newTestServer(t, `[1,2]`, http.StatusOK)
	_, err := New(Config{BaseURL: srv.URL, Endpoint: "item"}).FetchItem(context.Background(), 5)
	assert.Error(t, err)
}

func TestFlattenRows_Empty(t *testing.T) {
	rows, err := flattenRows([]byte(" null "), 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
