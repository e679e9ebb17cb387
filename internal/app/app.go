// Package app собирает процесс orders-api: хранилища, конвейер команд,
// проектор, HTTP API, ops-сервер и gRPC health.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/orders-cqrs/internal/health"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/tracing"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	serviceName     = "orders-cqrs"

	healthWatchInterval = 10 * time.Second
)

// Run запускает сервис и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Endpoint:       cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		// Трассировка необязательна.
		logger.WithError(err).Warn("tracing disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	storage, err := initStorage(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	// Kafka необязательна: без неё события идут через in-process шину.
	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		kafkaProducer = nil
	}
	defer closeKafka(kafkaProducer, logger)

	p, err := buildPipeline(cfg, storage, kafkaProducer, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	// Фоновые компоненты живут дольше серверов: их останавливают после GracefulStop.
	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer bgCancel()

	if p.bus != nil {
		p.bus.Start(bgCtx)
	}

	var consumer *kafka.Consumer
	if kafkaProducer != nil {
		consumer, err = kafka.NewConsumerWithOptions(
			normalizeBrokers(cfg.KafkaBrokers),
			cfg.KafkaGroupID,
			[]string{cfg.KafkaTopic},
			p.projector.HandleKafkaMessage,
			kafka.ConsumerOptions{
				Logger:      logger.WithField("component", "kafka-consumer"),
				DLQProducer: kafkaProducer,
			},
		)
		if err != nil {
			logger.WithError(err).Warn("failed to create projector consumer, read side will not be updated")
		} else if err := consumer.Start(bgCtx); err != nil {
			logger.WithError(err).Warn("failed to start projector consumer")
			consumer = nil
		}
	}

	workerDone := make(chan struct{})
	if p.worker != nil {
		go func() {
			defer close(workerDone)
			p.worker.Run(bgCtx)
		}()
	} else {
		close(workerDone)
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range storage.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcServer, healthServer := newGRPCServer(logger)
	watchCtx, stopWatch := context.WithCancel(bgCtx)
	defer stopWatch()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		healthHandler.Watch(watchCtx, healthWatchInterval, func(resp healthcheck.Response) {
			status := healthpb.HealthCheckResponse_SERVING
			if !resp.Ready() {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthServer.SetServingStatus("", status)
			logger.WithFields(log.Fields{
				"status":  resp.Status,
				"failing": resp.Failing(),
			}).Info("readiness changed")
		})
	}()
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen grpc: %w", err)
	}

	apiHandler := httpapi.NewHandler(p.orchestrator, p.queries, logger.WithField("component", "http"))
	apiSrv := &http.Server{
		Handler:           httpapi.NewRouter(apiHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen http: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.WithFields(log.Fields{
			"addr":          apiLis.Addr().String(),
			"delivery_mode": p.orchestrator.Mode(),
		}).Info("HTTP API слушает")
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	// Watch останавливается первым, иначе он может вернуть SERVING.
	stopWatch()
	<-watchDone
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)

	// Порядок: сначала перестаём принимать команды, затем дочитываем шину и outbox.
	drainBackground(p, bgCancel, workerDone, logger)
	stopKafkaConsumer(consumer, logger)

	return runErr
}

// drainBackground дожидается доставки буфера шины, затем останавливает фоновые компоненты.
func drainBackground(p *pipeline, cancel context.CancelFunc, workerDone <-chan struct{}, logger *log.Entry) {
	if p.bus != nil {
		ctx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := p.bus.Close(ctx); err != nil {
			logger.WithError(err).WithField("pending", p.bus.Pending()).Warn("event bus did not drain before shutdown")
		}
		drainCancel()
	}
	cancel()

	select {
	case <-workerDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker shutdown timed out")
	}
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	// Reflection для grpcurl
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает ops-сервер: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
