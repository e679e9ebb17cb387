package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

// WriteStore — PostgreSQL-реализация хранилища записи.
type WriteStore struct {
	db *sql.DB
}

// NewWriteStore создаёт хранилище записи поверх пула Store.
func NewWriteStore(store *Store) *WriteStore {
	return &WriteStore{db: store.DB()}
}

// Acquire закрепляет за командой отдельное соединение из пула.
func (s *WriteStore) Acquire(ctx context.Context) (domain.WriteSession, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, domain.NewPersistenceError("acquire connection", err)
	}
	return &writeSession{conn: conn}, nil
}

// Count возвращает число заказов в таблице orders.
func (s *WriteStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, domain.NewPersistenceError("count orders", err)
	}
	return count, nil
}

type writeSession struct {
	conn *sql.Conn
	once sync.Once

	mu       sync.Mutex
	released bool
}

func (ws *writeSession) Insert(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	return ws.insert(ctx, draft, nil)
}

func (ws *writeSession) InsertWithOutbox(ctx context.Context, draft domain.OrderDraft, stage domain.OutboxStager) (domain.Order, error) {
	if stage == nil {
		stage = domain.StageOrderCreated
	}
	return ws.insert(ctx, draft, stage)
}

func (ws *writeSession) Release() {
	ws.once.Do(func() {
		ws.mu.Lock()
		ws.released = true
		ws.mu.Unlock()
		_ = ws.conn.Close()
	})
}

func (ws *writeSession) insert(ctx context.Context, draft domain.OrderDraft, stage domain.OutboxStager) (order domain.Order, err error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.released {
		return domain.Order{}, domain.NewPersistenceError("insert order", domain.ErrStoreClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := ws.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, domain.NewPersistenceError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	order = domain.Order{
		FirstName: draft.FirstName,
		LastName:  draft.LastName,
		Status:    draft.Status,
	}
	// Значения возвращаются из базы: created_at усечён до микросекунд, total_cost до копеек.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (first_name, last_name, status, total_cost, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, total_cost::float8
	`,
		draft.FirstName, draft.LastName, string(draft.Status), draft.TotalCost, draft.CreatedAt,
	).Scan(&order.ID, &order.CreatedAt, &order.TotalCost)
	if err != nil {
		return domain.Order{}, domain.NewPersistenceError(insertOp(err), err)
	}
	order.CreatedAt = order.CreatedAt.UTC()

	if stage != nil {
		var msg domain.OutboxMessage
		msg, err = stage(order)
		if err != nil {
			return domain.Order{}, domain.NewPersistenceError("stage outbox message", err)
		}
		if _, err = insertOutboxMessage(ctx, tx, msg); err != nil {
			return domain.Order{}, domain.NewPersistenceError("insert outbox message", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, domain.NewPersistenceError("commit create order", err)
	}

	return order, nil
}

// insertOp уточняет операцию для ошибок ограничений (класс SQLSTATE 23).
func insertOp(err error) string {
	if code, ok := constraintViolation(err); ok {
		return fmt.Sprintf("insert order (constraint %s)", code)
	}
	return "insert order"
}

func constraintViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return pgErr.Code, true
	}
	return "", false
}

var _ domain.WriteStore = (*WriteStore)(nil)
