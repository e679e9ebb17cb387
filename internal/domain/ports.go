package domain

import (
	"context"
	"time"
)

// WriteStore выдаёт сессию хранилища записи на одну команду.
type WriteStore interface {
	// Acquire захватывает соединение; вызывающий обязан вызвать Release.
	Acquire(ctx context.Context) (WriteSession, error)
	// Count возвращает число зафиксированных заказов.
	Count(ctx context.Context) (int64, error)
}

// WriteSession принадлежит одной команде и освобождается через Release.
type WriteSession interface {
	// Insert атомарно сохраняет заказ и назначает ему идентификатор.
	Insert(ctx context.Context, draft OrderDraft) (Order, error)
	// InsertWithOutbox сохраняет заказ и сообщение outbox в одной транзакции.
	InsertWithOutbox(ctx context.Context, draft OrderDraft, stage OutboxStager) (Order, error)
	// Release возвращает соединение в пул. Повторные вызовы безопасны.
	Release()
}

// OutboxStager строит сообщение outbox из заказа с уже назначенным ID.
type OutboxStager func(order Order) (OutboxMessage, error)

// EventPublisher передаёт доменное событие потребителям.
// Доставка at-least-once, OrderID служит ключом идемпотентности для потребителей.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderCreated) error
}

// OutboxPublisher публикует сообщения из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт сообщение наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository хранит события для последующей публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// ReadStore хранит проекции стороны чтения.
type ReadStore interface {
	// Upsert сохраняет проекцию, если записи с таким ID ещё нет.
	// Возвращает false для повторной доставки того же события.
	Upsert(ctx context.Context, view OrderView) (bool, error)
	// Get возвращает проекцию или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (OrderView, error)
	// ListSummaries возвращает краткие записи, упорядоченные по ID.
	ListSummaries(ctx context.Context) ([]OrderSummary, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
