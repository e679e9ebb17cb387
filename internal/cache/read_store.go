package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

const (
	// DefaultTTL используется, если конфигурация не задала время жизни.
	DefaultTTL = 5 * time.Minute

	operationOrder = "order"
)

// ReadStore оборачивает domain.ReadStore read-through кэшем для Get.
// Ошибки кэша не пробрасываются: запрос уходит в хранилище.
type ReadStore struct {
	next   domain.ReadStore
	cache  Cache
	ttl    time.Duration
	logger *log.Entry
}

// NewReadStore оборачивает хранилище чтения кэшем.
func NewReadStore(next domain.ReadStore, cache Cache, ttl time.Duration, logger *log.Entry) *ReadStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "read-cache")
	}
	return &ReadStore{next: next, cache: cache, ttl: ttl, logger: logger}
}

// Upsert пишет в хранилище и сбрасывает ключ при первой вставке.
func (s *ReadStore) Upsert(ctx context.Context, view domain.OrderView) (bool, error) {
	inserted, err := s.next.Upsert(ctx, view)
	if err != nil || !inserted {
		return inserted, err
	}
	if err := s.cache.Delete(ctx, s.key(view.ID)); err != nil {
		s.logger.WithError(err).WithField("order_id", view.ID).Warn("failed to invalidate cached order view")
	}
	return true, nil
}

// Get сначала смотрит в кэш, промах заполняет его из хранилища.
func (s *ReadStore) Get(ctx context.Context, id int64) (domain.OrderView, error) {
	key := s.key(id)

	raw, hit, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.logger.WithError(err).WithField("order_id", id).Warn("read cache unavailable, falling back to store")
	case hit:
		var view domain.OrderView
		if err := json.Unmarshal(raw, &view); err == nil {
			return view, nil
		}
		s.logger.WithField("order_id", id).Warn("corrupted cache entry ignored")
	}

	view, err := s.next.Get(ctx, id)
	if err != nil {
		return domain.OrderView{}, err
	}

	if payload, err := json.Marshal(view); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
			s.logger.WithError(err).WithField("order_id", id).Debug("failed to populate read cache")
		}
	}
	return view, nil
}

// ListSummaries не кэшируется.
func (s *ReadStore) ListSummaries(ctx context.Context) ([]domain.OrderSummary, error) {
	return s.next.ListSummaries(ctx)
}

func (s *ReadStore) key(id int64) string {
	return s.cache.Key(operationOrder, strconv.FormatInt(id, 10))
}

var _ domain.ReadStore = (*ReadStore)(nil)
