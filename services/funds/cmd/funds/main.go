package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/libs/health"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/httpmiddleware"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/logging"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/metrics"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/trace"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/cache"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/config"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/consumer"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/handlers"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/idempotency"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/service"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

type store interface {
	storage.TxRunner
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	serviceMetrics := service.NewMetrics(registry)
	outboxMetrics := outbox.NewMetrics(registry)
	consumerMetrics := consumer.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	st, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready.AddCheck("storage", st.Ping)

	redisClient, err := buildRedis(cfg, logger)
	if err != nil {
		logger.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		ready.AddCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	writer := outbox.NewWriter(cfg.Routes)
	ledgerService := service.NewLedgerService(st, writer, logging.Component(logger, "ledger"), serviceMetrics)
	walletService := service.NewWalletService(st, ledgerService, writer,
		cache.NewBalanceCache(redisClient, "", cfg.Redis.BalanceTTL),
		cfg.Currency, logging.Component(logger, "wallet"), serviceMetrics)
	lockService := service.NewFundsLockService(st, walletService, writer, logging.Component(logger, "locks"), serviceMetrics)
	transactionService := service.NewTransactionService(st, walletService, logging.Component(logger, "transactions"), serviceMetrics)

	guard := idempotency.NewGuard(st, logging.Component(logger, "idempotency"))
	if redisClient != nil {
		guard.WithRedis(redisClient, "", cfg.Redis.ProcessedTTL)
	}

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	relay := outbox.NewRelay(st, producer, outbox.Config{
		BatchSize:   cfg.Outbox.BatchSize,
		Interval:    cfg.Outbox.Interval,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	}, logging.Component(logger, "outbox"), outboxMetrics).WithDLQ(producer, cfg.Kafka.Topics.DeadLetter)
	writer.OnCommit(relay.Notify)

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter).WithRetry(kafka.RetryPolicy{
		MaxAttempts: cfg.Kafka.RetryAttempts,
		Backoff:     cfg.Kafka.RetryBackoff,
	})
	defer consumerGroup.Close()

	router := consumer.NewRouter(logging.Component(logger, "consumer"), consumerMetrics)
	consumer.NewHandlers(lockService, walletService, guard, logging.Component(logger, "saga"), consumerMetrics).Register(router, consumer.Topics{
		OrderValidated: cfg.Kafka.Topics.OrderValidated,
		OrderCancelled: cfg.Kafka.Topics.OrderCancelled,
		TradeFailed:    cfg.Kafka.Topics.TradeFailed,
		TradeExecuted:  cfg.Kafka.Topics.TradeExecuted,
		PaymentSuccess: cfg.Kafka.Topics.PaymentSuccess,
		UserCreated:    cfg.Kafka.Topics.UserCreated,
	})

	api := handlers.New(walletService, ledgerService, lockService, transactionService, logging.Component(logger, "http"))
	httpServer := buildHTTPServer(cfg, api, ready, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready.SetReady(true)

	go func() {
		logger.Info("funds http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("outbox relay starting", "interval", cfg.Outbox.Interval.String(), "batch_size", cfg.Outbox.BatchSize)
		relay.Run(ctx)
	}()

	go func() {
		topics := router.Topics()
		logger.Info("funds consumer starting", "topics", topics)
		if err := consumerGroup.Consume(ctx, topics, router); err != nil && ctx.Err() == nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	waitForShutdown(cfg, httpServer, ready, cancel, logger)
}

func buildStore(cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	if cfg.DB.Driver == config.StorageMemory {
		logger.Warn("using in-memory storage, state is lost on restart")
		return storage.NewMemory(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	pg := storage.NewPostgres(pool, logging.Component(logger, "storage"))
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, pool.Close, nil
}

// buildRedis returns nil when no address is configured. In dev an unreachable
// server disables the cache instead of failing startup.
func buildRedis(cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured, balance cache disabled")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.Redis.AllowNoRedisDev {
			logger.Warn("redis unavailable, continuing without cache", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func buildHTTPServer(cfg *config.Config, api *handlers.Handler, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	api.Register(router, []byte(cfg.Auth.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(cfg *config.Config, httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
