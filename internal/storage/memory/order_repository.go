package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// WriteStore — in-memory хранилище записи с последовательными идентификаторами.
type WriteStore struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Order
	outbox *OutboxRepository
}

// NewWriteStore возвращает in-memory хранилище для локальной разработки и тестов.
// outbox может быть nil, тогда InsertWithOutbox недоступен.
func NewWriteStore(outbox *OutboxRepository) *WriteStore {
	return &WriteStore{
		items:  make(map[int64]domain.Order),
		outbox: outbox,
	}
}

// Acquire выдаёт сессию на одну команду.
func (s *WriteStore) Acquire(ctx context.Context) (domain.WriteSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPersistenceError("acquire session", err)
	}
	return &writeSession{store: s}, nil
}

// Count возвращает число сохранённых заказов.
func (s *WriteStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items)), nil
}

// Get возвращает заказ по идентификатору (используется в тестах).
func (s *WriteStore) Get(id int64) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.items[id]
	return order, ok
}

func (s *WriteStore) insert(ctx context.Context, draft domain.OrderDraft, stage domain.OutboxStager) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, domain.NewPersistenceError("insert order", err)
	}
	if stage != nil && s.outbox == nil {
		return domain.Order{}, domain.NewPersistenceError("insert order", domain.ErrStoreClosed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order := domain.Order{
		ID:        s.nextID + 1,
		FirstName: draft.FirstName,
		LastName:  draft.LastName,
		Status:    draft.Status,
		CreatedAt: draft.CreatedAt,
		TotalCost: draft.TotalCost,
	}

	// Сообщение строится до фиксации: при ошибке идентификатор не расходуется.
	if stage != nil {
		msg, err := stage(order)
		if err != nil {
			return domain.Order{}, domain.NewPersistenceError("stage outbox message", err)
		}
		s.outbox.enqueue(msg)
	}

	s.nextID = order.ID
	s.items[order.ID] = order
	return order, nil
}

type writeSession struct {
	store    *WriteStore
	mu       sync.Mutex
	released bool
}

func (ws *writeSession) Insert(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	if ws.isReleased() {
		return domain.Order{}, domain.NewPersistenceError("insert order", domain.ErrStoreClosed)
	}
	return ws.store.insert(ctx, draft, nil)
}

func (ws *writeSession) InsertWithOutbox(ctx context.Context, draft domain.OrderDraft, stage domain.OutboxStager) (domain.Order, error) {
	if ws.isReleased() {
		return domain.Order{}, domain.NewPersistenceError("insert order", domain.ErrStoreClosed)
	}
	if stage == nil {
		stage = domain.StageOrderCreated
	}
	return ws.store.insert(ctx, draft, stage)
}

func (ws *writeSession) Release() {
	ws.mu.Lock()
	ws.released = true
	ws.mu.Unlock()
}

func (ws *writeSession) isReleased() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.released
}

var _ domain.WriteStore = (*WriteStore)(nil)
