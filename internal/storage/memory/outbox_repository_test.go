package memory

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

func TestOutboxRepository_EnqueueAndPullInOrder(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()

	first := repo.enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "1", EventType: domain.EventTypeOrderCreated})
	second := repo.enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "2", EventType: domain.EventTypeOrderCreated})
	if first.ID == "" || second.ID == "" {
		t.Fatal("expected generated ids")
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("unexpected order: %+v", pending)
	}

	limited, _ := repo.PullPending(ctx, 1)
	if len(limited) != 1 || limited[0].ID != first.ID {
		t.Fatalf("expected only the oldest message, got %+v", limited)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()

	sent := repo.enqueue(domain.OutboxMessage{AggregateType: "order"})
	failed := repo.enqueue(domain.OutboxMessage{AggregateType: "order"})

	if err := repo.MarkSent(ctx, sent.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("expected empty backlog, got %+v", stats)
	}
}

func TestOutboxRepository_Stats(t *testing.T) {
	repo := NewOutboxRepository()
	repo.enqueue(domain.OutboxMessage{AggregateType: "order"})

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
