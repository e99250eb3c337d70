package repository

import (
	"context"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/repository"
)

// Producer is the part of pkg/kafka.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaActionPublisher implements ActionPublisher for Kafka. Actions are
// keyed by source so one venue's actions stay ordered on a partition.
type KafkaActionPublisher struct {
	producer Producer
	topic    string
}

var _ repository.ActionPublisher = (*KafkaActionPublisher)(nil)

// NewKafkaActionPublisher creates Kafka publisher.
func NewKafkaActionPublisher(producer Producer, topic string) *KafkaActionPublisher {
	return &KafkaActionPublisher{producer: producer, topic: topic}
}

func (p *KafkaActionPublisher) Publish(ctx context.Context, a *models.Action) error {
	return p.producer.Publish(ctx, p.topic, []byte(a.Source), a)
}

func (p *KafkaActionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
