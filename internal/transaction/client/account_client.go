// Package client talks to the Account Ownership Store over HTTP with the
// caller's own bearer token, so ownership is enforced by the store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/identity"
	"github.com/eaglebank/moneyflow/shared/middleware"
	"github.com/eaglebank/moneyflow/shared/models"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL string
	// Timeout bounds each call, including reading the response body.
	Timeout time.Duration
	// Transport defaults to http.DefaultTransport, wrapped for tracing.
	Transport http.RoundTripper
}

// AccountClient is the transaction-service view of the Ownership Store.
//
// Reads are safe to retry and fail with Upstream.Timeout or
// Upstream.Unavailable. A balance write that may have reached the store
// without a response fails with Upstream.Unknown and must not be retried.
type AccountClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewAccountClient(cfg Config, logger *zap.Logger) *AccountClient {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "account-service",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transport-level failures count; a 404 or 409 is the store
		// working as intended.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.IsKind(err, apperr.KindUpstream)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &AccountClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{Transport: otelhttp.NewTransport(transport)},
		breaker: breaker,
		logger:  logger,
	}
}

func (c *AccountClient) GetAccount(ctx context.Context, id identity.Identity, accountID string) (*models.Account, error) {
	var account models.Account
	if err := c.call(ctx, id, http.MethodGet, c.accountsPath(accountID), nil, &account, false); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *AccountClient) ListAccounts(ctx context.Context, id identity.Identity) ([]models.Account, error) {
	var resp struct {
		Accounts []models.Account `json:"accounts"`
	}
	if err := c.call(ctx, id, http.MethodGet, c.accountsPath(""), nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// UpdateBalance performs the conditional write. Conflict.ConcurrentMutation
// means the store rejected it; Upstream.Unknown means it may have applied.
func (c *AccountClient) UpdateBalance(ctx context.Context, id identity.Identity, accountID string, update models.BalanceUpdate) (*models.Account, error) {
	var account models.Account
	if err := c.call(ctx, id, http.MethodPut, c.accountsPath(accountID)+"/balance", update, &account, true); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *AccountClient) accountsPath(accountID string) string {
	p := c.baseURL + "/" + models.AccountSchemaVersion + "/accounts"
	if accountID != "" {
		p += "/" + url.PathEscape(accountID)
	}
	return p
}

func (c *AccountClient) call(ctx context.Context, id identity.Identity, method, target string, body, out any, mutating bool) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, id, method, target, body, out, mutating)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.UpstreamUnavailable, "account service unavailable", err)
	}
	return err
}

func (c *AccountClient) do(ctx context.Context, id identity.Identity, method, target string, body, out any, mutating bool) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to build request", err)
	}
	req.Header.Set("Authorization", id.BearerHeader())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(method, target, err, mutating)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// The status line arrived, so for a write the store has decided;
		// only the body is lost.
		return c.transportError(method, target, err, mutating && resp.StatusCode < 300)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			if mutating {
				return apperr.Wrap(apperr.UpstreamUnknown, "unreadable response to balance update", err)
			}
			return apperr.Wrap(apperr.UpstreamUnavailable, "unreadable response from account service", err)
		}
		return nil
	}
	return statusError(resp.StatusCode, raw)
}

// transportError classifies a failed exchange. A request that provably
// never left this process is Unavailable; otherwise a write is Unknown.
func (c *AccountClient) transportError(method, target string, err error, mutating bool) error {
	c.logger.Warn("account service call failed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Bool("mutating", mutating),
		zap.Error(err),
	)

	if mutating {
		if isDialError(err) {
			return apperr.Wrap(apperr.UpstreamUnavailable, "account service unreachable", err)
		}
		return apperr.Wrap(apperr.UpstreamUnknown, "balance update outcome unknown", err)
	}
	if isTimeout(err) {
		return apperr.Wrap(apperr.UpstreamTimeout, "account service timed out", err)
	}
	return apperr.Wrap(apperr.UpstreamUnavailable, "account service unavailable", err)
}

// statusError maps a non-2xx response. Typed bodies from the store are
// passed through; anything else is classified by status.
func statusError(status int, raw []byte) error {
	var body middleware.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" && status < 500 {
		appErr := apperr.New(body.Code, body.Message)
		for k, v := range body.Details {
			appErr = appErr.WithDetail(k, v)
		}
		return appErr
	}

	switch status {
	case http.StatusNotFound:
		return apperr.ErrAccountNotFound
	case http.StatusForbidden:
		return apperr.ErrNotOwner
	case http.StatusConflict:
		return apperr.ErrConcurrentMutation
	case http.StatusUnauthorized:
		return apperr.New(apperr.TokenMalformed, "account service rejected the access token")
	}
	if status >= 500 {
		return apperr.Newf(apperr.UpstreamUnavailable, "account service returned %d", status)
	}
	return apperr.Newf(apperr.Internal, "unexpected account service status %d", status)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
