package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// ReadStore хранит проекции в памяти по идентификатору заказа.
type ReadStore struct {
	mu    sync.RWMutex
	views map[int64]domain.OrderView
}

// NewReadStore создаёт пустое in-memory хранилище чтения.
func NewReadStore() *ReadStore {
	return &ReadStore{views: make(map[int64]domain.OrderView)}
}

// Upsert сохраняет проекцию, повторная доставка того же заказа игнорируется.
func (s *ReadStore) Upsert(ctx context.Context, view domain.OrderView) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.views[view.ID]; exists {
		return false, nil
	}
	s.views[view.ID] = view
	return true, nil
}

// Get возвращает проекцию или ErrOrderNotFound.
func (s *ReadStore) Get(ctx context.Context, id int64) (domain.OrderView, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderView{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	view, ok := s.views[id]
	if !ok {
		return domain.OrderView{}, domain.ErrOrderNotFound
	}
	return view, nil
}

// ListSummaries возвращает краткие записи по возрастанию ID.
func (s *ReadStore) ListSummaries(ctx context.Context) ([]domain.OrderSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OrderSummary, 0, len(s.views))
	for _, view := range s.views {
		result = append(result, view.Summary())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Len возвращает число записей (используется в тестах).
func (s *ReadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

var _ domain.ReadStore = (*ReadStore)(nil)
