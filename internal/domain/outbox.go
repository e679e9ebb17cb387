package domain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// NewOrderCreatedMessage сериализует событие в сообщение outbox.
func NewOrderCreatedMessage(event OrderCreated) (OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order created event: %w", err)
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateTypeOrder,
		AggregateID:   strconv.FormatInt(event.OrderID, 10),
		EventType:     EventTypeOrderCreated,
		Payload:       payload,
	}, nil
}

// StageOrderCreated реализует OutboxStager для события создания заказа.
func StageOrderCreated(order Order) (OutboxMessage, error) {
	return NewOrderCreatedMessage(NewOrderCreated(order))
}

// DecodeOrderCreated восстанавливает событие из payload сообщения outbox.
func DecodeOrderCreated(msg OutboxMessage) (OrderCreated, error) {
	if msg.EventType != EventTypeOrderCreated {
		return OrderCreated{}, fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	var event OrderCreated
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return OrderCreated{}, fmt.Errorf("unmarshal order created event: %w", err)
	}
	if event.OrderID <= 0 {
		return OrderCreated{}, fmt.Errorf("order created event without order id")
	}
	return event, nil
}
