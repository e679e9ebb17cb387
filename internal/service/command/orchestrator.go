// Package command реализует конвейер команды создания заказа:
// валидация → сохранение → публикация события → DTO.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/metrics"
)

// DefaultPublishTimeout ограничивает ожидание паблишера после фиксации заказа.
const DefaultPublishTimeout = 2 * time.Second

const tracerName = "github.com/vladislavdragonenkov/orders-cqrs/internal/service/command"

// State — состояние конвейера команды.
type State string

const (
	StateValidating      State = "validating"
	StatePersisting      State = "persisting"
	StatePublishing      State = "publishing"
	StateCompleted       State = "completed"
	StateRejected        State = "rejected"
	StatePersistFailed   State = "persist_failed"
	StatePublishDegraded State = "publish_degraded"
)

// Succeeded сообщает, получил ли вызывающий DTO.
func (s State) Succeeded() bool {
	return s == StateCompleted || s == StatePublishDegraded
}

// DeliveryMode определяет, как событие попадает к проекциям.
type DeliveryMode string

const (
	// DeliveryDirect — публикация сразу после коммита.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryOutbox — событие пишется в outbox в той же транзакции, публикует воркер.
	DeliveryOutbox DeliveryMode = "outbox"
)

// ParseDeliveryMode разбирает режим доставки без учёта регистра.
func ParseDeliveryMode(raw string) (DeliveryMode, error) {
	switch mode := DeliveryMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case DeliveryDirect, DeliveryOutbox:
		return mode, nil
	case "":
		return DeliveryDirect, nil
	default:
		return "", fmt.Errorf("unsupported delivery mode %q", raw)
	}
}

// Validator проверяет команду без обращения к хранилищу.
type Validator interface {
	Validate(cmd domain.CreateOrderCommand) []domain.FieldViolation
}

// ValidatorFunc адаптирует функцию к Validator.
type ValidatorFunc func(cmd domain.CreateOrderCommand) []domain.FieldViolation

// Validate вызывает f(cmd).
func (f ValidatorFunc) Validate(cmd domain.CreateOrderCommand) []domain.FieldViolation {
	return f(cmd)
}

// Notifier получает сигнал о новом сообщении в outbox.
type Notifier interface {
	Notify()
}

// Result — итог выполнения команды. PublishErr заполнен только в publish_degraded.
type Result struct {
	DTO        domain.OrderDTO
	State      State
	PublishErr error
}

// Options задаёт параметры оркестратора.
type Options struct {
	Validator      Validator
	Mode           DeliveryMode
	PublishTimeout time.Duration
	Clock          func() time.Time
	Metrics        *metrics.CommandMetrics
	Logger         *log.Entry
	Tracer         trace.Tracer
	Notifier       Notifier
}

// Option настраивает Orchestrator.
type Option func(*Options)

// WithValidator подменяет валидатор команды.
func WithValidator(v Validator) Option {
	return func(opts *Options) {
		opts.Validator = v
	}
}

// WithDeliveryMode задаёт режим доставки события.
func WithDeliveryMode(mode DeliveryMode) Option {
	return func(opts *Options) {
		opts.Mode = mode
	}
}

// WithPublishTimeout задаёт таймаут публикации.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PublishTimeout = timeout
	}
}

// WithClock задаёт источник времени для CreatedAt.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithMetrics включает метрики команды.
func WithMetrics(m *metrics.CommandMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithLogger задаёт logger оркестратора.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTracer задаёт tracer. По умолчанию берётся глобальный провайдер otel.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// WithOutboxNotifier будит dispatcher после коммита в режиме outbox.
func WithOutboxNotifier(n Notifier) Option {
	return func(opts *Options) {
		opts.Notifier = n
	}
}

// Orchestrator выполняет команду создания заказа. Безопасен для конкурентного
// использования: каждое выполнение берёт собственную сессию хранилища.
type Orchestrator struct {
	store          domain.WriteStore
	publisher      domain.EventPublisher
	validator      Validator
	mode           DeliveryMode
	publishTimeout time.Duration
	clock          func() time.Time
	metrics        *metrics.CommandMetrics
	logger         *log.Entry
	tracer         trace.Tracer
	notifier       Notifier
}

// NewOrchestrator собирает оркестратор. В режиме outbox publisher не нужен.
func NewOrchestrator(store domain.WriteStore, publisher domain.EventPublisher, options ...Option) (*Orchestrator, error) {
	opts := Options{
		Validator:      ValidatorFunc(domain.ValidateCreateOrder),
		Mode:           DeliveryDirect,
		PublishTimeout: DefaultPublishTimeout,
		Clock:          time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	if store == nil {
		return nil, errors.New("write store is required")
	}
	switch opts.Mode {
	case DeliveryDirect:
		if publisher == nil {
			return nil, errors.New("event publisher is required in direct delivery mode")
		}
	case DeliveryOutbox:
	default:
		return nil, fmt.Errorf("unsupported delivery mode %q", opts.Mode)
	}
	if opts.Validator == nil {
		opts.Validator = ValidatorFunc(domain.ValidateCreateOrder)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "command")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Orchestrator{
		store:          store,
		publisher:      publisher,
		validator:      opts.Validator,
		mode:           opts.Mode,
		publishTimeout: opts.PublishTimeout,
		clock:          opts.Clock,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		tracer:         opts.Tracer,
		notifier:       opts.Notifier,
	}, nil
}

// Mode возвращает режим доставки.
func (o *Orchestrator) Mode() DeliveryMode {
	return o.mode
}

// Execute проводит команду через конвейер. Ошибка возвращается только для
// rejected (*domain.ValidationError) и persist_failed (*domain.PersistenceError);
// сбой публикации даёт успешный результат в состоянии publish_degraded.
func (o *Orchestrator) Execute(ctx context.Context, cmd domain.CreateOrderCommand) (Result, error) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.CommandStarted()
	}

	ctx, span := o.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("orders.delivery_mode", string(o.mode)),
	))
	result := Result{State: StateValidating}
	defer func() {
		span.SetAttributes(attribute.String("orders.state", string(result.State)))
		if result.DTO.ID > 0 {
			span.SetAttributes(attribute.Int64("orders.order_id", result.DTO.ID))
		}
		if !result.State.Succeeded() {
			span.SetStatus(codes.Error, string(result.State))
		}
		span.End()
		if o.metrics != nil {
			o.metrics.CommandFinished(string(result.State), time.Since(started))
		}
	}()

	stepStarted := time.Now()
	violations := o.validator.Validate(cmd)
	o.recordStep(metrics.StepValidate, stepStarted)
	if len(violations) > 0 {
		result.State = StateRejected
		o.logger.WithFields(log.Fields{
			"state":      result.State,
			"violations": len(violations),
		}).Info("create order rejected")
		return result, &domain.ValidationError{Violations: violations}
	}

	result.State = StatePersisting
	stepStarted = time.Now()
	order, err := o.persist(ctx, cmd)
	o.recordStep(metrics.StepPersist, stepStarted)
	if err != nil {
		result.State = StatePersistFailed
		span.RecordError(err)
		o.logger.WithError(err).WithField("state", result.State).Error("create order persistence failed")
		return result, domain.NewPersistenceError("insert order", err)
	}
	result.DTO = order.ToDTO()

	result.State = StatePublishing
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"state":    result.State,
	}).Debug("order persisted")

	if o.mode == DeliveryOutbox {
		// Событие уже лежит в outbox той же транзакции.
		if o.metrics != nil {
			o.metrics.RecordPublish("staged")
		}
		if o.notifier != nil {
			o.notifier.Notify()
		}
	} else {
		stepStarted = time.Now()
		err := o.publish(ctx, domain.NewOrderCreated(order))
		o.recordStep(metrics.StepPublish, stepStarted)
		if err != nil {
			result.State = StatePublishDegraded
			result.PublishErr = err
			span.AddEvent("publish failed", trace.WithAttributes(attribute.String("error", err.Error())))
			if o.metrics != nil {
				o.metrics.RecordPublish("failed")
			}
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"state":    result.State,
			}).Warn("order committed but event was not published")
			return result, nil
		}
		if o.metrics != nil {
			o.metrics.RecordPublish("sent")
		}
	}

	result.State = StateCompleted
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"state":    result.State,
	}).Info("order created")
	return result, nil
}

func (o *Orchestrator) persist(ctx context.Context, cmd domain.CreateOrderCommand) (domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "CreateOrder.persist")
	defer span.End()

	session, err := o.store.Acquire(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer session.Release()

	draft := domain.NewOrderDraft(cmd, o.clock())
	if o.mode == DeliveryOutbox {
		return session.InsertWithOutbox(ctx, draft, domain.StageOrderCreated)
	}
	return session.Insert(ctx, draft)
}

// publish не даёт сбою паблишера, включая panic, выйти за пределы конвейера.
func (o *Orchestrator) publish(ctx context.Context, event domain.OrderCreated) (err error) {
	ctx, span := o.tracer.Start(ctx, "CreateOrder.publish")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	publishCtx, cancel := context.WithTimeout(ctx, o.publishTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewPublishError(event.OrderID, fmt.Errorf("publisher panic: %v", r))
		}
	}()

	if err := o.publisher.Publish(publishCtx, event); err != nil {
		return domain.NewPublishError(event.OrderID, err)
	}
	return nil
}

func (o *Orchestrator) recordStep(step string, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(step, time.Since(started))
	}
}
