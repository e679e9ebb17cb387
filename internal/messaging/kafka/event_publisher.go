package kafka

import (
	"context"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// EventPublisher публикует OrderCreated напрямую (режим доставки direct).
// Подтверждением считается ack брокера, а не обработка потребителями.
type EventPublisher struct {
	outbox *OutboxTopicPublisher
}

// NewEventPublisher создаёт паблишер событий заказа поверх producer.
func NewEventPublisher(producer *Producer, topic string) *EventPublisher {
	return &EventPublisher{outbox: NewOutboxPublisher(producer, topic)}
}

func (p *EventPublisher) Publish(ctx context.Context, event domain.OrderCreated) error {
	msg, err := domain.NewOrderCreatedMessage(event)
	if err != nil {
		return domain.NewPublishError(event.OrderID, err)
	}
	if err := p.outbox.Publish(ctx, msg); err != nil {
		return domain.NewPublishError(event.OrderID, err)
	}
	return nil
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
