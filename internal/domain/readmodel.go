package domain

import (
	"strings"
	"time"
)

// OrderView — запись проекции заказа на стороне чтения.
type OrderView struct {
	ID          int64       `json:"id"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	TotalCost   float64     `json:"totalCost"`
	ProjectedAt time.Time   `json:"projectedAt"`
}

// OrderSummary используется в списке заказов.
type OrderSummary struct {
	ID           int64       `json:"id"`
	CustomerName string      `json:"customerName"`
	Status       OrderStatus `json:"status"`
	TotalCost    float64     `json:"totalCost"`
}

// NewOrderView материализует проекцию из события.
func NewOrderView(event OrderCreated, projectedAt time.Time) OrderView {
	return OrderView{
		ID:          event.OrderID,
		FirstName:   event.FirstName,
		LastName:    event.LastName,
		Status:      event.Status,
		CreatedAt:   event.CreatedAt.UTC(),
		TotalCost:   event.TotalCost,
		ProjectedAt: projectedAt.UTC(),
	}
}

// Summary сворачивает проекцию в запись списка.
func (v OrderView) Summary() OrderSummary {
	return OrderSummary{
		ID:           v.ID,
		CustomerName: strings.TrimSpace(v.FirstName + " " + v.LastName),
		Status:       v.Status,
		TotalCost:    v.TotalCost,
	}
}
