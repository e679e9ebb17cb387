package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// NewDLQPublisher публикует сообщения, исчерпавшие попытки, в DLQ topic.
func NewDLQPublisher(producer *Producer) *OutboxTopicPublisher {
	return NewOutboxPublisher(producer, TopicDeadLetterQueue)
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Ключ сообщения равен идентификатору заказа, события заказа идут в одну партицию.
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	return p.producer.Send(ctx, Record{
		Topic: p.topic,
		Key:   key,
		Value: NewEnvelope(msg),
		Headers: map[string]string{
			HeaderEventType: msg.EventType,
			HeaderMessageID: msg.ID,
		},
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
