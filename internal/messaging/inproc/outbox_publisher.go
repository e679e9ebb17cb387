package inproc

import (
	"context"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// OutboxPublisher передаёт сообщения outbox в шину (режим outbox без Kafka).
type OutboxPublisher struct {
	bus *Bus
}

// NewOutboxPublisher создаёт адаптер outbox → Bus.
func NewOutboxPublisher(bus *Bus) *OutboxPublisher {
	return &OutboxPublisher{bus: bus}
}

// Publish декодирует OrderCreated из payload и ставит его в шину.
func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	event, err := domain.DecodeOrderCreated(msg)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, event)
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
