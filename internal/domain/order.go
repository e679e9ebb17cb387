package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, обработка ещё не начиналась.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — заказ подтверждён и готов к оплате.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPaid — оплата по заказу получена.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

// Valid проверяет, что статус относится к закрытому перечислению.
func (s OrderStatus) Valid() bool {
	for _, known := range orderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseOrderStatus нормализует статус без учёта регистра ("Pending" -> pending).
// Неизвестное значение возвращается как есть, решение принимает валидатор.
func ParseOrderStatus(raw string) OrderStatus {
	return OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
}

// CreateOrderCommand — неизменяемый запрос на создание заказа. Идентификатора нет,
// его назначает хранилище.
type CreateOrderCommand struct {
	FirstName string
	LastName  string
	Status    OrderStatus
	TotalCost float64
}

// OrderDraft содержит провалидированную команду и момент сохранения.
// CreatedAt выставляет оркестратор, а не вызывающая сторона.
type OrderDraft struct {
	FirstName string
	LastName  string
	Status    OrderStatus
	TotalCost float64
	CreatedAt time.Time
}

// NewOrderDraft собирает черновик заказа из команды. Имена сохраняются как
// пришли; время усечено до микросекунд, точности Postgres и SQLite.
func NewOrderDraft(cmd CreateOrderCommand, createdAt time.Time) OrderDraft {
	return OrderDraft{
		FirstName: cmd.FirstName,
		LastName:  cmd.LastName,
		Status:    cmd.Status,
		TotalCost: cmd.TotalCost,
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
}

// Order — агрегат на стороне записи. ID и CreatedAt после сохранения не меняются.
type Order struct {
	ID        int64
	FirstName string
	LastName  string
	Status    OrderStatus
	CreatedAt time.Time
	TotalCost float64
}

// OrderDTO — проекция заказа, которую получает вызывающая сторона.
type OrderDTO struct {
	ID        int64       `json:"id"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	TotalCost float64     `json:"totalCost"`
}

// ToDTO отображает зафиксированный заказ в ответную проекцию.
func (o Order) ToDTO() OrderDTO {
	return OrderDTO{
		ID:        o.ID,
		FirstName: o.FirstName,
		LastName:  o.LastName,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		TotalCost: o.TotalCost,
	}
}
