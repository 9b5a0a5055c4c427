package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/config"
	"github.com/joao-fontenele/beadflow/internal/messaging"
	"github.com/joao-fontenele/beadflow/internal/telemetry"
	"github.com/joao-fontenele/beadflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := telemetry.NewLogger(cfg.Development(), "beadflow-notification-worker")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS environment variable is required")
	}
	if cfg.NotificationServiceURL == "" {
		logger.Fatal("NOTIFICATION_SERVICE_URL environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "beadflow-notification-worker", cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.NotificationTopic, "notification-worker", logger.Named("consumer"))
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	handler := worker.NewNotificationHandler(cfg.NotificationServiceURL, httpClient, logger)

	logger.Info("starting notification worker",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.NotificationTopic))

	if err := consumer.Consume(ctx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("consumer error", zap.Error(err))
	}
	logger.Info("consumer stopped")
}
