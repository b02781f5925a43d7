package marketapi

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	xhttp "MarketLens/pkg/http"
)

// httpBase centralizes client construction, throttling and JSON GETs.
type httpBase struct {
	baseURL string
	client  *xhttp.Client
	limiter *rate.Limiter
}

func newHTTPBase(baseURL string, timeout time.Duration, rps float64, burst int) *httpBase {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &httpBase{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// getJSON waits for a token, then GETs baseURL+path and decodes into dest.
func (b *httpBase) getJSON(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("market api client not initialized")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         b.baseURL + path,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: query,
	}, dest)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return nil
}
