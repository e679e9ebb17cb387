package domain

import "time"

const (
	// EventTypeOrderCreated — тип события создания заказа.
	EventTypeOrderCreated = "order.created"
	// AggregateTypeOrder — тип агрегата в outbox и заголовках сообщений.
	AggregateTypeOrder = "order"
)

// OrderCreated — неизменяемый факт о зафиксированном заказе.
// Помимо минимального контракта несёт status и createdAt, чтобы проекции
// не обращались к хранилищу записи. OrderID служит ключом идемпотентности.
type OrderCreated struct {
	OrderID   int64       `json:"orderId"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	TotalCost float64     `json:"totalCost"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NewOrderCreated строит событие из зафиксированного заказа.
func NewOrderCreated(order Order) OrderCreated {
	return OrderCreated{
		OrderID:   order.ID,
		FirstName: order.FirstName,
		LastName:  order.LastName,
		TotalCost: order.TotalCost,
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
	}
}
