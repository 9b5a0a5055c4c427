package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/circuitbreaker"
	"github.com/joao-fontenele/beadflow/internal/config"
	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/inventory"
	"github.com/joao-fontenele/beadflow/internal/ledger"
	"github.com/joao-fontenele/beadflow/internal/logistics"
	"github.com/joao-fontenele/beadflow/internal/messaging"
	"github.com/joao-fontenele/beadflow/internal/notify"
	"github.com/joao-fontenele/beadflow/internal/orders"
	"github.com/joao-fontenele/beadflow/internal/payments"
	"github.com/joao-fontenele/beadflow/internal/sweeper"
	"github.com/joao-fontenele/beadflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := telemetry.NewLogger(cfg.Development(), cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orders service failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.PostgresURL == "" {
		return errors.New("POSTGRES_URL environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(logger, "tracer provider", shutdownTracer)

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(logger, "meter provider", shutdownMeter)

	if err := telemetry.StartRuntimeMetrics(); err != nil {
		logger.Warn("runtime metrics unavailable", zap.Error(err))
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	logisticsSyncer := newLogisticsSyncer(cfg, db, logger)

	var notifier orders.Notifier = notify.NewLogNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.NotificationTopic)
		defer func() { _ = producer.Close() }()
		notifier = notify.NewKafkaNotifier(producer)
	}

	inventoryRepo := inventory.NewRepository(db)
	orderRepo := orders.NewRepository(db)

	svc, err := orders.NewService(orders.Deps{
		Orders:     orderRepo,
		Addresses:  orderRepo,
		Inventory:  inventoryRepo,
		Points:     ledger.NewPoints(db),
		Coupons:    ledger.NewCoupons(db),
		Catalog:    inventoryRepo,
		Logistics:  logisticsSyncer,
		Params:     orders.NewSettingsRepository(db, cfg.Business),
		Notifier:   notifier,
		UnitOfWork: database.NewTxManager(db),
		Config:     cfg.Orders,
		SweepBatch: cfg.SweepBatch,
		Logger:     logger.Named("orders"),
	})
	if err != nil {
		return err
	}

	if cfg.SweeperEnabled {
		scheduler := sweeper.NewScheduler(svc, cfg.SweepInterval, logger.Named("sweeper"))
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RouteTag)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metricsHandler)

	inventory.NewHandler(inventoryRepo, logger).Routes(r)
	orders.NewHandler(svc, cfg.MockPaymentsEnabled, logger).Routes(r)
	if cfg.StripeWebhookSecret != "" {
		payments.NewStripeWebhook(cfg.StripeWebhookSecret, svc, logger.Named("payments")).Routes(r)
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, payment webhook disabled")
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      otelhttp.NewHandler(r, "beadflow-orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting orders service", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogisticsSyncer(cfg config.Config, db *sql.DB, logger *zap.Logger) *logistics.Syncer {
	var opts []logistics.Option
	if cfg.LogisticsProviderURL != "" {
		provider := logistics.NewHTTPProvider(cfg.LogisticsProviderURL, cfg.LogisticsProviderKey, 5*time.Second)
		opts = append(opts, logistics.WithProvider(provider, circuitbreaker.NewCircuitBreaker(5, 30*time.Second)))
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		opts = append(opts, logistics.WithThrottle(logistics.NewRedisThrottle(rdb, cfg.LogisticsFetchThrottle)))
	}
	return logistics.NewSyncer(logistics.NewStore(db), logger.Named("logistics"), opts...)
}

func shutdownWithTimeout(logger *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}
