// Package sqlite реализует хранилище чтения (проекции заказов) поверх SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/storage/sqlite/migrations"
)

const opTimeout = 5 * time.Second

// ReadStore хранит проекции заказов в отдельной от хранилища записи базе.
type ReadStore struct {
	db *sql.DB
}

// Open открывает файл базы, включает WAL и применяет встроенные миграции.
func Open(path string) (*ReadStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &ReadStore{db: db}, nil
}

// Ping проверяет доступность базы.
func (s *ReadStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close закрывает соединение.
func (s *ReadStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert вставляет проекцию; повтор того же orderId ничего не меняет.
func (s *ReadStore) Upsert(ctx context.Context, view domain.OrderView) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_views (id, first_name, last_name, status, total_cost, created_at, projected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		view.ID, view.FirstName, view.LastName, string(view.Status), view.TotalCost,
		view.CreatedAt.UTC().UnixMicro(), view.ProjectedAt.UTC().UnixMicro(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert order view: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for order view: %w", err)
	}
	return affected > 0, nil
}

// Get возвращает проекцию заказа или domain.ErrOrderNotFound.
func (s *ReadStore) Get(ctx context.Context, id int64) (domain.OrderView, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		view        domain.OrderView
		status      string
		createdAt   int64
		projectedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, status, total_cost, created_at, projected_at
		FROM order_views
		WHERE id = ?
	`, id).Scan(&view.ID, &view.FirstName, &view.LastName, &status, &view.TotalCost, &createdAt, &projectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderView{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("get order view: %w", err)
	}

	view.Status = domain.OrderStatus(status)
	view.CreatedAt = time.UnixMicro(createdAt).UTC()
	view.ProjectedAt = time.UnixMicro(projectedAt).UTC()
	return view, nil
}

// ListSummaries возвращает краткие записи по возрастанию ID.
func (s *ReadStore) ListSummaries(ctx context.Context) ([]domain.OrderSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, status, total_cost
		FROM order_views
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list order views: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderSummary, 0)
	for rows.Next() {
		var (
			view   domain.OrderView
			status string
		)
		if err := rows.Scan(&view.ID, &view.FirstName, &view.LastName, &status, &view.TotalCost); err != nil {
			return nil, fmt.Errorf("scan order view: %w", err)
		}
		view.Status = domain.OrderStatus(status)
		result = append(result, view.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order views: %w", err)
	}
	return result, nil
}

// applyMigrations выполняет каждый .sql файл не более одного раза.
func applyMigrations(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
		    name TEXT PRIMARY KEY,
		    applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		var applied int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

var _ domain.ReadStore = (*ReadStore)(nil)
