package messaging

import (
	"context"

	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/pkg/mq"
)

// kafkaPublisher 基于 Kafka 的领域事件发布者实现
type kafkaPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaPublisher 创建事件发布者实例
func NewKafkaPublisher(producer *mq.KafkaProducer) domain.EventPublisher {
	return &kafkaPublisher{producer: producer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, topic string, key string, event any) error {
	return p.producer.SendMessage(ctx, topic, key, event)
}
