// Package projector материализует события OrderCreated в хранилище чтения.
package projector

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/messaging/kafka"
)

// Результаты проекции для метрик.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// Recorder принимает результат проекции (metrics.CommandMetrics).
type Recorder interface {
	RecordProjection(result string)
}

// Service применяет события к хранилищу чтения. Повторная доставка
// события с тем же orderId не создаёт вторую запись.
type Service struct {
	store    domain.ReadStore
	recorder Recorder
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт проектор. recorder и logger могут быть nil.
func NewService(store domain.ReadStore, recorder Recorder, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "projector")
	}
	return &Service{
		store:    store,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Project применяет событие; дубликат не считается ошибкой.
func (s *Service) Project(ctx context.Context, event domain.OrderCreated) error {
	if event.OrderID <= 0 {
		s.record(ResultFailed)
		return fmt.Errorf("project order created: invalid order id %d", event.OrderID)
	}

	inserted, err := s.store.Upsert(ctx, domain.NewOrderView(event, s.now()))
	if err != nil {
		s.record(ResultFailed)
		return fmt.Errorf("project order %d: %w", event.OrderID, err)
	}

	if !inserted {
		s.record(ResultDuplicate)
		s.logger.WithField("order_id", event.OrderID).Debug("duplicate order created event ignored")
		return nil
	}

	s.record(ResultApplied)
	s.logger.WithField("order_id", event.OrderID).Debug("order projected")
	return nil
}

// HandleKafkaMessage подходит как kafka.MessageHandler для consumer group проектора.
func (s *Service) HandleKafkaMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseOrderCreated(message)
	if err != nil {
		s.record(ResultFailed)
		return fmt.Errorf("decode order created message: %w", err)
	}
	return s.Project(ctx, event)
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordProjection(result)
	}
}
