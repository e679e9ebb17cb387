package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

func testDraft(first string) domain.OrderDraft {
	return domain.NewOrderDraft(domain.CreateOrderCommand{
		FirstName: first,
		LastName:  "Lovelace",
		Status:    domain.OrderStatusPending,
		TotalCost: 42.5,
	}, time.Now())
}

func TestWriteStore_PostgresInsertAssignsSequentialIDs(t *testing.T) {
	store := migratedStore(t)
	ws := NewWriteStore(store)
	ctx := context.Background()

	session, err := ws.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer session.Release()

	first, err := session.Insert(ctx, testDraft("Ada"))
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second, err := session.Insert(ctx, testDraft("Grace"))
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}

	if first.ID <= 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d and %d", first.ID, second.ID)
	}
	if first.TotalCost != 42.5 {
		t.Fatalf("expected total cost 42.5, got %v", first.TotalCost)
	}
	if first.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC created_at, got %v", first.CreatedAt.Location())
	}

	count, err := ws.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 orders, got %d", count)
	}
}

func TestWriteStore_PostgresInsertWithOutbox(t *testing.T) {
	store := migratedStore(t)
	ws := NewWriteStore(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	session, err := ws.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer session.Release()

	order, err := session.InsertWithOutbox(ctx, testDraft("Ada"), nil)
	if err != nil {
		t.Fatalf("insert with outbox: %v", err)
	}

	pending, err := outbox.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(pending))
	}
	event, err := domain.DecodeOrderCreated(pending[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.OrderID != order.ID {
		t.Fatalf("expected event for order %d, got %d", order.ID, event.OrderID)
	}
}

func TestWriteStore_PostgresStageFailureRollsBack(t *testing.T) {
	store := migratedStore(t)
	ws := NewWriteStore(store)
	ctx := context.Background()

	session, err := ws.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer session.Release()

	stageErr := errors.New("boom")
	_, err = session.InsertWithOutbox(ctx, testDraft("Ada"), func(domain.Order) (domain.OutboxMessage, error) {
		return domain.OutboxMessage{}, stageErr
	})
	if !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, stageErr) {
		t.Fatalf("expected persistence error wrapping stage error, got %v", err)
	}

	count, err := ws.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, got %d orders", count)
	}
}

func TestWriteStore_PostgresReleasedSessionRejectsInsert(t *testing.T) {
	store := migratedStore(t)
	ws := NewWriteStore(store)
	ctx := context.Background()

	session, err := ws.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	session.Release()
	session.Release()

	if _, err := session.Insert(ctx, testDraft("Ada")); !errors.Is(err, domain.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestConstraintViolation(t *testing.T) {
	if code, ok := constraintViolation(&pgconn.PgError{Code: "23514"}); !ok || code != "23514" {
		t.Fatalf("expected check violation to be detected, got %q %v", code, ok)
	}
	if _, ok := constraintViolation(&pgconn.PgError{Code: "22001"}); ok {
		t.Fatal("22001 is not a constraint violation")
	}
	if _, ok := constraintViolation(errors.New("plain")); ok {
		t.Fatal("plain error is not a constraint violation")
	}
}
