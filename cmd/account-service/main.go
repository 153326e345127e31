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

	"github.com/eaglebank/moneyflow/internal/account/command"
	"github.com/eaglebank/moneyflow/internal/account/config"
	"github.com/eaglebank/moneyflow/internal/account/handler"
	"github.com/eaglebank/moneyflow/internal/account/migrations"
	"github.com/eaglebank/moneyflow/internal/account/query"
	"github.com/eaglebank/moneyflow/internal/account/repository"
	"github.com/eaglebank/moneyflow/internal/account/scheduler"
	"github.com/eaglebank/moneyflow/internal/account/session"
	"github.com/eaglebank/moneyflow/shared/database"
	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/logging"
	"github.com/eaglebank/moneyflow/shared/middleware"
	redisClient "github.com/eaglebank/moneyflow/shared/redis"
	"github.com/eaglebank/moneyflow/shared/telemetry"
	"github.com/eaglebank/moneyflow/shared/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New("account-service", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("account service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:       "account-service",
		CollectorEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Database connection (write store)
	db, err := database.Open(ctx, cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db, migrations.FS, ".", logger); err != nil {
		return err
	}

	// Redis connection (event streaming, caches, locks)
	redis, err := redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	accessTokens, err := tokens.NewIssuer([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	// --- CQRS wiring ---
	publisher := events.NewPublisher(redis.Client)

	userRepo := repository.NewUserRepository(db, redis.Client, logger)
	writeRepo := repository.NewAccountWriteRepository(db)
	readRepo := repository.NewAccountReadRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)

	sessions := session.NewManager(tokenRepo, userRepo, accessTokens,
		session.WithRefreshTTL(cfg.RefreshTokenTTL),
		session.WithGraceWindow(session.NewRedisGraceCache(redis.Client, cfg.RefreshGraceWindow, logger), cfg.RefreshGraceWindow),
		session.WithLogger(logger),
	)

	authSvc := command.NewAuthCommandService(userRepo, sessions, logger)
	accountSvc := command.NewAccountCommandService(userRepo, writeRepo, readRepo, publisher, logger)
	accountQry := query.NewAccountQueryService(userRepo, readRepo)

	sweeper := scheduler.NewTokenSweeper(sessions, redisClient.NewLocker(redis.Client), cfg.TokenSweepLockTTL, logger)
	if err := sweeper.Start(ctx, cfg.TokenSweepSchedule); err != nil {
		return err
	}

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(logger))
	handler.Register(router, handler.NewAuthHandler(authSvc), handler.NewAccountHandler(accountSvc, accountQry), accessTokens)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, "account-service"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("account service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
