package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	applogger "MarketLens/pkg/logger"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

var (
	httpOnce sync.Once
	httpInst *httpMetrics
)

func httpInstruments() *httpMetrics {
	httpOnce.Do(func() {
		httpInst = &httpMetrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "marketlens_http_requests_total",
				Help: "HTTP requests by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketlens_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status class.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2.5, 9),
			}, []string{"route", "method", "class"}),
			size: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketlens_http_response_size_bytes",
				Help:    "HTTP response body size by route.",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			}, []string{"route"}),
			inFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "marketlens_http_in_flight_requests",
				Help: "HTTP requests currently being served.",
			}),
		}
	})
	return httpInst
}

// Metrics records request counters and latency under the echo route
// template. Requests at or above slow are logged as warnings.
func Metrics(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	m := httpInstruments()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			took := time.Since(start)
			route, method := routeLabel(c), c.Request().Method
			status := c.Response().Status
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.latency.WithLabelValues(route, method, strconv.Itoa(status/100)+"xx").Observe(took.Seconds())
			m.size.WithLabelValues(route).Observe(float64(c.Response().Size))

			if l != nil && slow > 0 && took >= slow {
				l.Warn("http request slow",
					applogger.String("request_id", requestID(c)),
					applogger.String("route", route),
					applogger.Int("status", status),
					applogger.Duration("took", took))
			}
			return nil
		}
	}
}

// routeLabel is the registered route template, keeping label cardinality
// bounded by the router.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
