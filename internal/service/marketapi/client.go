// Package marketapi fetches item rows from the upstream marketplace API.
package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
)

// maxNesting bounds how deep nested row lists are flattened.
const maxNesting = 8

// Config holds upstream endpoint settings.
type Config struct {
	BaseURL  string
	Version  string
	Region   string
	Endpoint string
	Timeout  time.Duration
	RPS      float64
	Burst    int
}

// Client implements MarketSource over the upstream REST API.
type Client struct {
	base *httpBase
	path string
}

// New creates a market API client.
func New(cfg Config) *Client {
	parts := make([]string, 0, 3)
	for _, p := range []string{cfg.Version, cfg.Region, cfg.Endpoint} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return &Client{
		base: newHTTPBase(strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout, cfg.RPS, cfg.Burst),
		path: "/" + strings.Join(parts, "/"),
	}
}

// Endpoint returns the request path rows are fetched from.
func (c *Client) Endpoint() string { return c.path }

// FetchItem returns every level row of one item.
func (c *Client) FetchItem(ctx context.Context, itemID int64) ([]models.ScrapedRow, error) {
	var raw json.RawMessage
	query := map[string][]string{"id": {strconv.FormatInt(itemID, 10)}}
	if err := c.base.getJSON(ctx, c.path, query, &raw); err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", itemID, err)
	}
	rows, err := flattenRows(raw, 0)
	if err != nil {
		return nil, fmt.Errorf("decode item %d: %w", itemID, err)
	}
	return rows, nil
}

// flattenRows decodes a row object or an arbitrarily nested list of them.
// Unknown keys are ignored.
func flattenRows(raw json.RawMessage, depth int) ([]models.ScrapedRow, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		if depth >= maxNesting {
			return nil, fmt.Errorf("rows nested deeper than %d", maxNesting)
		}
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		var out []models.ScrapedRow
		for _, el := range list {
			rows, err := flattenRows(el, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil
	case '{':
		var row models.ScrapedRow
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, err
		}
		return []models.ScrapedRow{row}, nil
	default:
		return nil, fmt.Errorf("unexpected json value %q", trimmed[:1])
	}
}

var _ drepo.MarketSource = (*Client)(nil)
