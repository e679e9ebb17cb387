package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/service/command"
)

// EnvPrefix добавляется ко всем переменным окружения сервиса.
const EnvPrefix = "ORDERS_"

const (
	// StoreMemory — in-memory хранилище (разработка и тесты).
	StoreMemory = "memory"
	// StorePostgres — хранилище записи в PostgreSQL.
	StorePostgres = "postgres"
	// StoreSQLite — хранилище чтения в SQLite.
	StoreSQLite = "sqlite"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	WriteStore          string `env:"WRITE_STORE" envDefault:"memory"`
	PostgresDSN         string `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`
	PostgresMaxConns    int    `env:"POSTGRES_MAX_CONNS" envDefault:"25"`

	ReadStore  string `env:"READ_STORE" envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"orders-read.db"`

	RedisAddr string        `env:"REDIS_ADDR"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"orders.order.events"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"orders-read-projector"`

	DeliveryMode   string        `env:"DELIVERY_MODE" envDefault:"direct"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"2s"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"3"`
	OutboxRetryDelay   time.Duration `env:"OUTBOX_RETRY_DELAY" envDefault:"100ms"`
	OutboxClaimLease   time.Duration `env:"OUTBOX_CLAIM_LEASE" envDefault:"30s"`

	BusBufferSize int `env:"BUS_BUFFER_SIZE" envDefault:"1024"`

	OTelEndpoint    string  `env:"OTEL_ENDPOINT"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// DefaultConfig возвращает конфигурацию по умолчанию (значения envDefault).
func DefaultConfig() Config {
	var cfg Config
	// Разбор тегов без окружения: ошибка возможна только при неверных тегах.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadConfig читает конфигурацию из переменных окружения с префиксом ORDERS_.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.WriteStore {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("ORDERS_POSTGRES_DSN is required for postgres write store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported write store %q", c.WriteStore))
	}

	switch c.ReadStore {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("ORDERS_SQLITE_PATH is required for sqlite read store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported read store %q", c.ReadStore))
	}

	if _, err := command.ParseDeliveryMode(c.DeliveryMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if c.PublishTimeout <= 0 {
		errs = append(errs, errors.New("publish timeout must be positive"))
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("otel sample ratio %v is outside [0, 1]", c.OTelSampleRatio))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must not be negative"))
	}
	if c.OutboxClaimLease <= 0 {
		errs = append(errs, errors.New("outbox claim lease must be positive"))
	}
	if c.BusBufferSize <= 0 {
		errs = append(errs, errors.New("bus buffer size must be positive"))
	}

	return errors.Join(errs...)
}

// Mode возвращает разобранный режим доставки событий.
func (c Config) Mode() command.DeliveryMode {
	mode, err := command.ParseDeliveryMode(c.DeliveryMode)
	if err != nil {
		return command.DeliveryDirect
	}
	return mode
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	for _, b := range c.KafkaBrokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}
