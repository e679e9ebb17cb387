// Package query обслуживает запросы чтения; хранилище записи не используется.
package query

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// Service отвечает на запросы по проекциям заказов.
type Service struct {
	store domain.ReadStore
}

// NewService создаёт сервис запросов поверх хранилища чтения (возможно, кэшированного).
func NewService(store domain.ReadStore) *Service {
	return &Service{store: store}
}

// GetOrderByID возвращает проекцию заказа или domain.ErrOrderNotFound.
// Только что созданный заказ может ещё отсутствовать: проекция обновляется асинхронно.
func (s *Service) GetOrderByID(ctx context.Context, id int64) (domain.OrderView, error) {
	if id <= 0 {
		return domain.OrderView{}, domain.ErrOrderNotFound
	}
	view, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return view, nil
}

// ListOrderSummaries возвращает краткие записи по возрастанию ID.
func (s *Service) ListOrderSummaries(ctx context.Context) ([]domain.OrderSummary, error) {
	summaries, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list order summaries: %w", err)
	}
	return summaries, nil
}
