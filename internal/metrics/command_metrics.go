package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы команды создания заказа (значения label outcome).
const (
	OutcomeCompleted       = "completed"
	OutcomePublishDegraded = "publish_degraded"
	OutcomeRejected        = "rejected"
	OutcomePersistFailed   = "persist_failed"
)

// Шаги конвейера (значения label step).
const (
	StepValidate = "validate"
	StepPersist  = "persist"
	StepPublish  = "publish"
)

// CommandMetrics содержит метрики конвейера команд и проекций.
type CommandMetrics struct {
	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	stepDuration    *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	projections     *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewCommandMetrics регистрирует метрики в DefaultRegisterer.
func NewCommandMetrics() *CommandMetrics {
	return NewCommandMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCommandMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCommandMetricsWithRegisterer(registerer prometheus.Registerer) *CommandMetrics {
	return &CommandMetrics{
		commands: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_commands_total",
			Help: "Total number of create-order commands grouped by outcome",
		}, []string{"outcome"}),
		commandDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orders_command_duration_seconds",
			Help:    "Duration of create-order commands in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_command_step_duration_seconds",
			Help:    "Duration of individual pipeline steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		eventsPublished: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_events_published_total",
			Help: "Total number of OrderCreated publications grouped by result",
		}, []string{"result"}),
		projections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_projections_total",
			Help: "Total number of projected events grouped by result",
		}, []string{"result"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_commands_in_flight",
			Help: "Number of create-order commands currently executing",
		}),
	}
}

// CommandStarted увеличивает число выполняемых команд.
func (m *CommandMetrics) CommandStarted() {
	m.inFlight.Inc()
}

// CommandFinished фиксирует исход и длительность команды.
func (m *CommandMetrics) CommandFinished(outcome string, duration time.Duration) {
	m.inFlight.Dec()
	m.commands.WithLabelValues(outcome).Inc()
	m.commandDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага.
func (m *CommandMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordPublish фиксирует результат публикации: sent, failed или staged (outbox).
func (m *CommandMetrics) RecordPublish(result string) {
	m.eventsPublished.WithLabelValues(result).Inc()
}

// RecordProjection фиксирует результат проекции: applied, duplicate или failed.
func (m *CommandMetrics) RecordProjection(result string) {
	m.projections.WithLabelValues(result).Inc()
}
