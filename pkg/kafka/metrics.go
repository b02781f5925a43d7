package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type kafkaMetrics struct {
	published   *prometheus.CounterVec
	publishSize *prometheus.CounterVec
	publishTime *prometheus.HistogramVec
	handled     *prometheus.CounterVec
	handleTime  *prometheus.HistogramVec
	laneDepth   *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsSet  *kafkaMetrics
)

// instruments registers the package collectors on first use.
func instruments() *kafkaMetrics {
	metricsOnce.Do(func() {
		metricsSet = &kafkaMetrics{
			published: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "marketlens_kafka_published_total",
				Help: "Messages handed to the Kafka writer, by result.",
			}, []string{"topic", "result"}),
			publishSize: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "marketlens_kafka_published_bytes_total",
				Help: "Encoded payload bytes handed to the Kafka writer.",
			}, []string{"topic"}),
			publishTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketlens_kafka_publish_seconds",
				Help:    "Publish latency.",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
			handled: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "marketlens_kafka_handled_total",
				Help: "Consumed messages by outcome (ok, dlq, failed).",
			}, []string{"topic", "outcome"}),
			handleTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketlens_kafka_handle_seconds",
				Help:    "Handling time per consumed message, retries included.",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
			laneDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "marketlens_kafka_lane_depth",
				Help: "Messages queued on a consumer lane.",
			}, []string{"lane"}),
		}
	})
	return metricsSet
}

func (m *kafkaMetrics) observePublish(topic string, size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(topic, result).Inc()
	m.publishSize.WithLabelValues(topic).Add(float64(size))
	m.publishTime.WithLabelValues(topic).Observe(took.Seconds())
}

func (m *kafkaMetrics) observeHandle(topic, outcome string, took time.Duration) {
	m.handled.WithLabelValues(topic, outcome).Inc()
	m.handleTime.WithLabelValues(topic).Observe(took.Seconds())
}
