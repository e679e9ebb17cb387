// Package inproc реализует асинхронную in-process шину доменных событий.
package inproc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

const (
	defaultBufferSize  = 1024
	defaultMaxAttempts = 3
	defaultRetryDelay  = 20 * time.Millisecond
)

var (
	// ErrBusClosed возвращается при публикации в остановленную шину.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrBufferFull возвращается, если буфер переполнен и событие не принято.
	ErrBufferFull = errors.New("event bus buffer is full")
)

// Handler обрабатывает доставленное событие. Должен быть идемпотентным.
type Handler func(ctx context.Context, event domain.OrderCreated) error

// BusOptions задаёт параметры шины.
type BusOptions struct {
	Logger      *log.Entry
	BufferSize  int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Option настраивает Bus.
type Option func(*BusOptions)

// WithLogger задаёт logger шины.
func WithLogger(logger *log.Entry) Option {
	return func(opts *BusOptions) {
		opts.Logger = logger
	}
}

// WithBufferSize задаёт ёмкость буфера событий.
func WithBufferSize(size int) Option {
	return func(opts *BusOptions) {
		opts.BufferSize = size
	}
}

// WithRetry задаёт число попыток доставки и базовую задержку backoff.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(opts *BusOptions) {
		opts.MaxAttempts = maxAttempts
		opts.RetryDelay = delay
	}
}

// Bus принимает события без ожидания потребителей и доставляет их подписчикам
// в отдельной горутине. Порядок доставки совпадает с порядком публикации.
type Bus struct {
	events      chan domain.OrderCreated
	logger      *log.Entry
	maxAttempts int
	retryDelay  time.Duration

	mu       sync.RWMutex
	handlers []Handler
	closed   bool

	closeOnce sync.Once
	running   atomic.Bool
	done      chan struct{}
}

// NewBus создаёт шину. Доставка начинается после вызова Run.
func NewBus(options ...Option) *Bus {
	opts := BusOptions{
		BufferSize:  defaultBufferSize,
		MaxAttempts: defaultMaxAttempts,
		RetryDelay:  defaultRetryDelay,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "event-bus")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	return &Bus{
		events:      make(chan domain.OrderCreated, opts.BufferSize),
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		done:        make(chan struct{}),
	}
}

// Subscribe регистрирует обработчик. Подписываться нужно до Run.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish ставит событие в буфер и сразу возвращает управление.
func (b *Bus) Publish(ctx context.Context, event domain.OrderCreated) error {
	if err := ctx.Err(); err != nil {
		return domain.NewPublishError(event.OrderID, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.NewPublishError(event.OrderID, ErrBusClosed)
	}

	select {
	case b.events <- event:
		return nil
	case <-ctx.Done():
		return domain.NewPublishError(event.OrderID, ctx.Err())
	default:
		return domain.NewPublishError(event.OrderID, ErrBufferFull)
	}
}

// Pending возвращает число событий, ожидающих доставки.
func (b *Bus) Pending() int {
	return len(b.events)
}

// Start запускает доставку в фоне. Повторный вызов игнорируется.
func (b *Bus) Start(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		b.logger.Warn("event bus is already running")
		return
	}
	go b.loop(ctx)
}

// Run доставляет события до Close или отмены ctx. После Close буфер дочитывается.
func (b *Bus) Run(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		b.logger.Warn("event bus is already running")
		return
	}
	b.loop(ctx)
}

func (b *Bus) loop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ctx, event)
		}
	}
}

// Close прекращает приём событий и ждёт доставки оставшихся, если Run запущен.
func (b *Bus) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.events)
		b.mu.Unlock()
	})

	if !b.running.Load() {
		return nil
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.OrderCreated) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := b.deliver(ctx, handler, event); err != nil {
			b.logger.WithError(err).WithFields(log.Fields{
				"order_id": event.OrderID,
				"attempts": b.maxAttempts,
			}).Error("event delivery failed after retries")
		}
	}
}

func (b *Bus) deliver(ctx context.Context, handler Handler, event domain.OrderCreated) error {
	var lastErr error
	delay := b.retryDelay
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if lastErr = handler(ctx, event); lastErr == nil {
			return nil
		}
		if attempt == b.maxAttempts {
			break
		}

		b.logger.WithError(lastErr).WithFields(log.Fields{
			"order_id": event.OrderID,
			"attempt":  attempt,
		}).Warn("event delivery failed, will retry")

		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return lastErr
}

var _ domain.EventPublisher = (*Bus)(nil)
