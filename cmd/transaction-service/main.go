package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eaglebank/moneyflow/internal/transaction/client"
	"github.com/eaglebank/moneyflow/internal/transaction/command"
	"github.com/eaglebank/moneyflow/internal/transaction/config"
	"github.com/eaglebank/moneyflow/internal/transaction/handler"
	"github.com/eaglebank/moneyflow/internal/transaction/migrations"
	"github.com/eaglebank/moneyflow/internal/transaction/query"
	"github.com/eaglebank/moneyflow/internal/transaction/reconcile"
	"github.com/eaglebank/moneyflow/internal/transaction/repository"
	"github.com/eaglebank/moneyflow/shared/database"
	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/logging"
	"github.com/eaglebank/moneyflow/shared/middleware"
	redisClient "github.com/eaglebank/moneyflow/shared/redis"
	"github.com/eaglebank/moneyflow/shared/telemetry"
	"github.com/eaglebank/moneyflow/shared/tokens"
)

const consumerGroup = "transaction-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New("transaction-service", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("transaction service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:       "transaction-service",
		CollectorEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := database.Open(ctx, cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db, migrations.FS, ".", logger); err != nil {
		return err
	}

	redis, err := redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	accessTokens, err := tokens.NewIssuer([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := newNotifier(cfg, redis)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// --- CQRS wiring ---
	accounts := client.NewAccountClient(client.Config{
		BaseURL: cfg.AccountServiceURL,
		Timeout: cfg.AccountServiceTimeout,
	}, logger)
	transferRepo := repository.NewTransferRepository(db)
	readRepo := repository.NewTransactionReadRepository(db, redis.Client, cfg.TransactionCacheTTL, logger)

	orchestrator := command.NewTransferOrchestrator(accounts, transferRepo, readRepo, notifier, logger,
		command.WithMaxAttempts(cfg.TransferMaxAttempts),
		command.WithNotifyTimeout(cfg.NotifyTimeout),
	)
	transactionQry := query.NewTransactionQueryService(accounts, readRepo)

	reconciler := reconcile.NewReconciler(transferRepo, reconcile.Config{
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
	}, logger)
	accountEvents := events.NewSubscriber(redis.Client, events.SubscriberConfig{
		Group:    consumerGroup,
		Consumer: cfg.ConsumerName,
		Stream:   events.AccountEventsStream,
		Handler:  reconciler.HandleAccountEvent,
		Logger:   logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(logger))
	handler.Register(router, handler.NewTransactionHandler(orchestrator, transactionQry), accessTokens)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, "transaction-service"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("transaction service starting", zap.String("port", cfg.Port), zap.String("event_bus", cfg.EventBus))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := reconciler.Run(gctx, accountEvents); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newNotifier(cfg *config.Config, redis *redisClient.Client) (events.Notifier, func() error, error) {
	if cfg.EventBus == config.EventBusAMQP {
		notifier, closeFn, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return notifier, closeFn, nil
	}
	return events.NewStreamNotifier(events.NewPublisher(redis.Client)), func() error { return nil }, nil
}
