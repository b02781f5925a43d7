package repository

import (
	"context"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	pkgkafka "MarketLens/pkg/kafka"
	"MarketLens/pkg/logger"
)

// producer is the subset of pkg/kafka.Producer the publishers need.
type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher publishes scrape batches keyed by category, so one
// category's batches stay ordered on a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(p *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

// PublishBatch uses the batch id as the message trace id.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, batch *models.ScrapeBatch) error {
	ctx = pkgkafka.WithTraceID(ctx, batch.ID.String())
	return p.producer.Publish(ctx, p.topic, []byte(batch.Category), batch)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaLogPublisher forwards aggregated error logs to Kafka.
type KafkaLogPublisher struct {
	producer producer
}

func NewKafkaLogPublisher(p *pkgkafka.Producer) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: p}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

var (
	_ domrepo.ScrapePublisher = (*KafkaPublisher)(nil)
	_ logger.Publisher        = (*KafkaLogPublisher)(nil)
)
