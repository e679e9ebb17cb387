package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/messaging/inproc"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/metrics"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/service/command"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/service/projector"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/service/query"
)

// pipeline собирает сервисы команд и запросов.
type pipeline struct {
	orchestrator *command.Orchestrator
	queries      *query.Service
	projector    *projector.Service
	// bus доставляет события проектору, если Kafka не настроена.
	bus    *inproc.Bus
	worker *outbox.Worker
}

// buildPipeline связывает оркестратор, паблишеры и проектор.
// С Kafka события уходят в топик и читаются consumer group проектора,
// без неё используется in-process шина.
func buildPipeline(cfg Config, storage *storageDependencies, producer *kafka.Producer, logger *log.Entry) (*pipeline, error) {
	commandMetrics := metrics.NewCommandMetrics()
	proj := projector.NewService(storage.readStore, commandMetrics, logger.WithField("component", "projector"))

	p := &pipeline{
		queries:   query.NewService(storage.readStore),
		projector: proj,
	}

	var (
		eventPublisher  domain.EventPublisher
		outboxPublisher domain.OutboxPublisher
		dlqPublisher    domain.OutboxPublisher
	)
	if producer != nil {
		eventPublisher = kafka.NewEventPublisher(producer, cfg.KafkaTopic)
		outboxPublisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		dlqPublisher = kafka.NewDLQPublisher(producer)
	} else {
		p.bus = inproc.NewBus(
			inproc.WithLogger(logger.WithField("component", "event-bus")),
			inproc.WithBufferSize(cfg.BusBufferSize),
		)
		p.bus.Subscribe(proj.Project)
		eventPublisher = p.bus
		outboxPublisher = inproc.NewOutboxPublisher(p.bus)
	}

	mode := cfg.Mode()
	if mode == command.DeliveryOutbox {
		// Событие публикует только воркер, прямая публикация отключена.
		eventPublisher = nil
		options := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		}
		if dlqPublisher != nil {
			options = append(options, outbox.WithDLQPublisher(dlqPublisher))
		}
		p.worker = outbox.NewWorker(storage.outboxRepo, outboxPublisher, options...)
	}

	commandOptions := []command.Option{
		command.WithDeliveryMode(mode),
		command.WithPublishTimeout(cfg.PublishTimeout),
		command.WithMetrics(commandMetrics),
		command.WithLogger(logger.WithField("component", "command")),
	}
	if p.worker != nil {
		commandOptions = append(commandOptions, command.WithOutboxNotifier(p.worker))
	}
	orchestrator, err := command.NewOrchestrator(storage.writeStore, eventPublisher, commandOptions...)
	if err != nil {
		return nil, err
	}
	p.orchestrator = orchestrator
	return p, nil
}
