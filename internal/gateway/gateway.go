// Package gateway is the single public entry point. It checks access
// tokens early and forwards requests unchanged, bearer included, so each
// service still enforces its own rules.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/middleware"
)

const maxBodyBytes = 1 << 20

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Te":                true,
	"Trailer":           true,
	"Content-Length":    true,
}

type proxy struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewRouter builds the gateway routes. transport may be nil.
func NewRouter(cfg *Config, tokens middleware.TokenValidator, transport http.RoundTripper, logger *zap.Logger) *gin.Engine {
	if transport == nil {
		transport = http.DefaultTransport
	}
	p := &proxy{
		client:  &http.Client{Transport: otelhttp.NewTransport(transport)},
		timeout: cfg.UpstreamTimeout,
		logger:  logger,
	}
	auth := middleware.AuthMiddleware(tokens)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	})

	// Auth routes (no access token required, except logout-all)
	router.POST("/auth/register", p.to(cfg.AccountServiceURL))
	router.POST("/auth/login", p.to(cfg.AccountServiceURL))
	router.POST("/auth/refresh", p.to(cfg.AccountServiceURL))
	router.POST("/auth/logout", p.to(cfg.AccountServiceURL))
	router.POST("/auth/logout-all", auth, p.to(cfg.AccountServiceURL))

	// Account routes
	router.POST("/v1/accounts", auth, p.to(cfg.AccountServiceURL))
	router.GET("/v1/accounts", auth, p.to(cfg.AccountServiceURL))
	router.GET("/v1/accounts/:accountId", auth, p.to(cfg.AccountServiceURL))
	router.PUT("/v1/accounts/:accountId/balance", auth, p.to(cfg.AccountServiceURL))

	// Transaction routes
	router.POST("/transactions/deposit", auth, p.to(cfg.TransactionServiceURL))
	router.POST("/transactions/withdraw", auth, p.to(cfg.TransactionServiceURL))
	router.GET("/transactions", auth, p.to(cfg.TransactionServiceURL))
	router.GET("/transactions/:transactionId", auth, p.to(cfg.TransactionServiceURL))

	return router
}

func (p *proxy) to(serviceURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetURL := serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
			if err != nil {
				middleware.RespondWithAppError(c, apperr.Wrap(apperr.InvalidRequest, "failed to read request body", err))
				return
			}
		}

		ctx := c.Request.Context()
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(ctx, c.Request.Method, targetURL, bytes.NewReader(body))
		if err != nil {
			middleware.RespondWithAppError(c, apperr.Wrap(apperr.Internal, "failed to create request", err))
			return
		}
		copyHeaders(req.Header, c.Request.Header)
		req.Header.Set("X-Forwarded-For", c.ClientIP())

		resp, err := p.client.Do(req)
		if err != nil {
			p.logger.Warn("upstream request failed", zap.String("url", targetURL), zap.Error(err))
			if errors.Is(err, context.DeadlineExceeded) {
				middleware.RespondWithAppError(c, apperr.Wrap(apperr.UpstreamTimeout, "service timed out", err))
				return
			}
			middleware.RespondWithAppError(c, apperr.Wrap(apperr.UpstreamUnavailable, "service unavailable", err))
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			middleware.RespondWithAppError(c, apperr.Wrap(apperr.UpstreamUnavailable, "failed to read response", err))
			return
		}

		for key, values := range resp.Header {
			if hopHeaders[http.CanonicalHeaderKey(key)] {
				continue
			}
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
