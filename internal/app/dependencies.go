package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/cache"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders-cqrs/internal/health"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/storage/sqlite"
)

const cacheNamespace = "orders"

// storageDependencies держит хранилища записи и чтения. Хранилища раздельны,
// запросы никогда не обращаются к хранилищу записи.
type storageDependencies struct {
	writeStore domain.WriteStore
	outboxRepo domain.OutboxRepository
	readStore  domain.ReadStore
	checkers   map[string]healthcheck.Checker
	closers    []func() error
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *storageDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initStorage открывает хранилища по конфигурации. При ошибке уже открытые ресурсы закрываются.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (deps *storageDependencies, err error) {
	deps = &storageDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			_ = deps.close()
			deps = nil
		}
	}()

	if err := initWriteStore(ctx, cfg, deps, logger); err != nil {
		return nil, err
	}
	if err := initReadStore(ctx, cfg, deps, logger); err != nil {
		return nil, err
	}
	return deps, nil
}

func initWriteStore(ctx context.Context, cfg Config, deps *storageDependencies, logger *log.Entry) error {
	switch cfg.WriteStore {
	case StoreMemory:
		outbox := memory.NewOutboxRepository()
		deps.outboxRepo = outbox
		deps.writeStore = memory.NewWriteStore(outbox)
		logger.Info("using in-memory write store")
		return nil
	case StorePostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return errors.New("postgres dsn is required for postgres write store")
		}
		pool := postgres.DefaultPoolOptions()
		pool.MaxOpenConns = cfg.PostgresMaxConns
		store, err := postgres.OpenWithOptions(ctx, dsn, pool)
		if err != nil {
			return fmt.Errorf("open postgres write store: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			state, err := store.MigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			logger.WithFields(log.Fields{
				"version": state.Version,
				"applied": state.Applied,
			}).Info("postgres migrations applied")
		}

		deps.writeStore = postgres.NewWriteStore(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store, postgres.WithClaimLease(cfg.OutboxClaimLease))
		deps.checkers["write_store"] = healthcheck.NewPingChecker("write_store", store.Ping)
		logger.WithField("max_open_conns", store.Stats().MaxOpenConnections).Info("using postgres write store")
		return nil
	default:
		return fmt.Errorf("unsupported write store: %s", cfg.WriteStore)
	}
}

func initReadStore(ctx context.Context, cfg Config, deps *storageDependencies, logger *log.Entry) error {
	var base domain.ReadStore
	switch cfg.ReadStore {
	case StoreMemory:
		base = memory.NewReadStore()
		logger.Info("using in-memory read store")
	case StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite read store: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		deps.checkers["read_store"] = healthcheck.NewPingChecker("read_store", store.Ping)
		base = store
		logger.WithField("path", cfg.SQLitePath).Info("using sqlite read store")
	default:
		return fmt.Errorf("unsupported read store: %s", cfg.ReadStore)
	}
	deps.readStore = base

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	// Кэш необязателен: без redis запросы идут напрямую в хранилище.
	rc, err := cache.Dial(ctx, addr, cacheNamespace)
	if err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("redis is unavailable, continuing without read cache")
		return nil
	}
	deps.closers = append(deps.closers, rc.Close)
	deps.checkers["cache"] = healthcheck.NewOptionalChecker("cache", rc.Ping)
	deps.readStore = cache.NewReadStore(base, rc, cfg.CacheTTL, logger.WithField("component", "read-cache"))
	logger.WithField("addr", addr).Info("redis read cache enabled")
	return nil
}
