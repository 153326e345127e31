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

	"github.com/eaglebank/moneyflow/internal/gateway"
	"github.com/eaglebank/moneyflow/shared/logging"
	"github.com/eaglebank/moneyflow/shared/telemetry"
	"github.com/eaglebank/moneyflow/shared/tokens"
)

func main() {
	cfg, err := gateway.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New("api-gateway", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api gateway stopped", zap.Error(err))
	}
}

func run(cfg *gateway.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:       "api-gateway",
		CollectorEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	accessTokens, err := tokens.NewIssuer([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(cfg, accessTokens, nil, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, "api-gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api gateway starting", zap.String("port", cfg.Port))
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
