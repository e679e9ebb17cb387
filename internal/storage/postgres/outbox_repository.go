package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

const (
	defaultPullLimit  = 100
	defaultClaimLease = 30 * time.Second
)

// execer покрывает *sql.Tx и *sql.DB, чтобы вставка outbox работала внутри транзакции заказа.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxRepository — PostgreSQL-реализация domain.OutboxRepository.
//
// PullPending захватывает строки на время lease: параллельные dispatcher'ы
// не получают одно и то же сообщение, а строка, чей dispatcher упал, снова
// становится доступна после истечения lease.
type OutboxRepository struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// OutboxOption настраивает OutboxRepository.
type OutboxOption func(*OutboxRepository)

// WithClaimLease задаёт, на сколько PullPending резервирует строки.
func WithClaimLease(d time.Duration) OutboxOption {
	return func(r *OutboxRepository) {
		if d > 0 {
			r.lease = d
		}
	}
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store, options ...OutboxOption) *OutboxRepository {
	r := &OutboxRepository{db: store.DB(), lease: defaultClaimLease, now: time.Now}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func insertOutboxMessage(ctx context.Context, ex execer, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, aggregate_type, aggregate_id, event_type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

// claimQuery резервирует до $1 незахваченных pending-строк. SKIP LOCKED
// пропускает строки, которые прямо сейчас захватывает другая транзакция.
const claimQuery = `
	UPDATE outbox_messages AS o
	SET locked_until = $2
	FROM (
		SELECT id
		FROM outbox_messages
		WHERE status = 'pending'
		  AND (locked_until IS NULL OR locked_until <= $3)
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	) AS next
	WHERE o.id = next.id
	RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at
`

type claimedRow struct {
	msg       domain.OutboxMessage
	createdAt time.Time
}

// PullPending захватывает pending-сообщения и возвращает их в порядке записи.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultPullLimit
	}
	now := r.now().UTC()

	rows, err := r.db.QueryContext(ctx, claimQuery, limit, now.Add(r.lease), now)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	var claimed []claimedRow
	for rows.Next() {
		var row claimedRow
		if err := rows.Scan(
			&row.msg.ID,
			&row.msg.AggregateType,
			&row.msg.AggregateID,
			&row.msg.EventType,
			&row.msg.Payload,
			&row.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING не гарантирует порядок подзапроса.
	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].createdAt.Equal(claimed[j].createdAt) {
			return claimed[i].createdAt.Before(claimed[j].createdAt)
		}
		return claimed[i].msg.ID < claimed[j].msg.ID
	})
	result := make([]domain.OutboxMessage, len(claimed))
	for i, row := range claimed {
		result[i] = row.msg
	}
	return result, nil
}

// Stats возвращает размер backlog и возраст самой старой записи, включая захваченные.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, "sent")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, "failed")
}

// finish переводит сообщение в конечный статус и снимает lease.
func (r *OutboxRepository) finish(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`, id, status, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	} else if n == 0 {
		return fmt.Errorf("outbox message %s not found: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
