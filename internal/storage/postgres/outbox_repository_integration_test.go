package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

func enqueueForTest(t *testing.T, store *Store, msg domain.OutboxMessage) domain.OutboxMessage {
	t.Helper()

	stored, err := insertOutboxMessage(context.Background(), store.DB(), msg)
	if err != nil {
		t.Fatalf("enqueue outbox message: %v", err)
	}
	return stored
}

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := migratedStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	stored1 := enqueueForTest(t, store, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "1",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"orderId":1}`),
	})
	if stored1.ID == "" {
		t.Fatal("expected generated id for outbox message")
	}

	fixedID := "7f1d1c52-5d38-4c54-9a43-2df0c2a1a001"
	stored2 := enqueueForTest(t, store, domain.OutboxMessage{
		ID:            fixedID,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "2",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"orderId":2}`),
	})
	if stored2.ID != fixedID {
		t.Fatalf("expected fixed id %q, got %q", fixedID, stored2.ID)
	}

	pending, err := repo.PullPending(ctx, 0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats before marks: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected pending=2 before marks, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}

	if err := repo.MarkSent(ctx, stored1.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, stored2.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	after, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull pending after marks: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected no pending after marks, got %d", len(after))
	}
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := migratedStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	missing := "00000000-0000-0000-0000-000000000000"
	if err := repo.MarkSent(ctx, missing); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark sent missing id, got %v", err)
	}
	if err := repo.MarkFailed(ctx, missing); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark failed missing id, got %v", err)
	}
}

func TestOutboxRepository_PostgresPullOrder(t *testing.T) {
	store := migratedStore(t)
	repo := NewOutboxRepository(store)

	first := enqueueForTest(t, store, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "10",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"orderId":10}`),
	})
	time.Sleep(5 * time.Millisecond)
	enqueueForTest(t, store, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "11",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"orderId":11}`),
	})

	pending, err := repo.PullPending(context.Background(), 1)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("expected oldest message first, got %+v", pending)
	}
}

func TestOutboxRepository_PostgresClaimLease(t *testing.T) {
	store := migratedStore(t)
	now := time.Now().UTC()
	repo := NewOutboxRepository(store, WithClaimLease(time.Minute))
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"20", "21"} {
		enqueueForTest(t, store, domain.OutboxMessage{
			AggregateType: domain.AggregateTypeOrder,
			AggregateID:   id,
			EventType:     domain.EventTypeOrderCreated,
			Payload:       []byte(`{"orderId":` + id + `}`),
		})
	}

	first, err := repo.PullPending(ctx, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim: %v %+v", err, first)
	}
	second, err := repo.PullPending(ctx, 10)
	if err != nil || len(second) != 1 || second[0].ID == first[0].ID {
		t.Fatalf("second claim must skip leased row: %v %+v", err, second)
	}
	if rest, err := repo.PullPending(ctx, 10); err != nil || len(rest) != 0 {
		t.Fatalf("everything is leased, got %v %+v", err, rest)
	}

	// После истечения lease незавершённые строки снова доступны.
	now = now.Add(2 * time.Minute)
	again, err := repo.PullPending(ctx, 10)
	if err != nil || len(again) != 2 {
		t.Fatalf("expired leases must be reclaimed: %v %+v", err, again)
	}

	stats, err := repo.Stats(ctx)
	if err != nil || stats.PendingCount != 2 {
		t.Fatalf("leased rows stay pending in stats: %v %+v", err, stats)
	}
}
