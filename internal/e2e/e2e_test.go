package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	acccommand "github.com/eaglebank/moneyflow/internal/account/command"
	acchandler "github.com/eaglebank/moneyflow/internal/account/handler"
	accquery "github.com/eaglebank/moneyflow/internal/account/query"
	accmemory "github.com/eaglebank/moneyflow/internal/account/repository/memory"
	"github.com/eaglebank/moneyflow/internal/account/session"
	"github.com/eaglebank/moneyflow/internal/transaction/client"
	txcommand "github.com/eaglebank/moneyflow/internal/transaction/command"
	txhandler "github.com/eaglebank/moneyflow/internal/transaction/handler"
	txquery "github.com/eaglebank/moneyflow/internal/transaction/query"
	"github.com/eaglebank/moneyflow/internal/transaction/reconcile"
	txmemory "github.com/eaglebank/moneyflow/internal/transaction/repository/memory"
	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/middleware"
	"github.com/eaglebank/moneyflow/shared/models"
	"github.com/eaglebank/moneyflow/shared/tokens"
)

type stack struct {
	accountURL     string
	transactionURL string
	redis          *goredis.Client
	transfers      *txmemory.Transfers
	reconciler     *reconcile.Reconciler
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	redis := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redis.Close() })
	publisher := events.NewPublisher(redis)

	issuer, err := tokens.NewIssuer([]byte("e2e-secret-0123456789"))
	require.NoError(t, err)

	// account-service
	users := accmemory.NewUsers()
	accounts := accmemory.NewAccounts()
	sessions := session.NewManager(accmemory.NewRefreshTokens(), users, issuer,
		session.WithGraceWindow(session.NewRedisGraceCache(redis, 30*time.Second, logger), 30*time.Second),
	)
	accountRouter := gin.New()
	acchandler.Register(accountRouter,
		acchandler.NewAuthHandler(acccommand.NewAuthCommandService(users, sessions, logger)),
		acchandler.NewAccountHandler(
			acccommand.NewAccountCommandService(users, accounts, accounts, publisher, logger),
			accquery.NewAccountQueryService(users, accounts),
		),
		issuer,
	)
	accountSrv := httptest.NewServer(accountRouter)
	t.Cleanup(accountSrv.Close)

	// transaction-service
	accountClient := client.NewAccountClient(client.Config{BaseURL: accountSrv.URL, Timeout: 2 * time.Second}, logger)
	transfers := txmemory.NewTransfers()
	orchestrator := txcommand.NewTransferOrchestrator(accountClient, transfers, transfers, events.NewStreamNotifier(publisher), logger)
	transactionRouter := gin.New()
	txhandler.Register(transactionRouter,
		txhandler.NewTransactionHandler(orchestrator, txquery.NewTransactionQueryService(accountClient, transfers)),
		issuer,
	)
	transactionSrv := httptest.NewServer(transactionRouter)
	t.Cleanup(transactionSrv.Close)

	return &stack{
		accountURL:     accountSrv.URL,
		transactionURL: transactionSrv.URL,
		redis:          redis,
		transfers:      transfers,
		reconciler:     reconcile.NewReconciler(transfers, reconcile.Config{}, logger),
	}
}

func call(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, url, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *stack) signUp(t *testing.T, username string) acchandler.AuthResponse {
	t.Helper()
	var reg acchandler.AuthResponse
	status := call(t, http.MethodPost, s.accountURL+"/auth/register", "", map[string]string{
		"username": username, "password": "password123", "email": username + "@example.com",
	}, &reg)
	require.Equal(t, http.StatusOK, status)

	var login acchandler.AuthResponse
	status = call(t, http.MethodPost, s.accountURL+"/auth/login", "", map[string]string{
		"username": username, "password": "password123",
	}, &login)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)
	return login
}

func (s *stack) openAccount(t *testing.T, token, owner string) models.Account {
	t.Helper()
	var account models.Account
	status := call(t, http.MethodPost, s.accountURL+"/v1/accounts", token, map[string]string{"ownerName": owner}, &account)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, account.Balance.IsZero())
	return account
}

func TestMoneyFlow(t *testing.T) {
	s := newStack(t)
	alice := s.signUp(t, "alice")
	account := s.openAccount(t, alice.AccessToken, "Alice")

	var deposit models.Transaction
	status := call(t, http.MethodPost, s.transactionURL+"/transactions/deposit", alice.AccessToken,
		map[string]any{"accountId": account.ID, "amount": "100"}, &deposit)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.Deposit, deposit.Type)

	var withdraw models.Transaction
	status = call(t, http.MethodPost, s.transactionURL+"/transactions/withdraw", alice.AccessToken,
		map[string]any{"accountId": account.ID, "amount": "30"}, &withdraw)
	require.Equal(t, http.StatusOK, status)

	var history []models.Transaction
	status = call(t, http.MethodGet, s.transactionURL+"/transactions", alice.AccessToken, nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history, 2)
	assert.Equal(t, deposit.ID, history[0].ID)
	assert.Equal(t, withdraw.ID, history[1].ID)

	var current models.Account
	status = call(t, http.MethodGet, s.accountURL+"/v1/accounts/"+account.ID, alice.AccessToken, nil, &current)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, current.Balance.Equal(decimal.NewFromInt(70)), "balance is %s", current.Balance)
	assert.Equal(t, int64(2), current.Version)

	var overdraw middleware.ErrorResponse
	status = call(t, http.MethodPost, s.transactionURL+"/transactions/withdraw", alice.AccessToken,
		map[string]any{"accountId": account.ID, "amount": "70.01"}, &overdraw)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.InsufficientFunds, overdraw.Code)

	var single models.Transaction
	status = call(t, http.MethodGet, s.transactionURL+"/transactions/"+deposit.ID, alice.AccessToken, nil, &single)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, single.Amount.Equal(decimal.NewFromInt(100)))

	status = call(t, http.MethodPost, s.accountURL+"/auth/logout-all", alice.AccessToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	var refreshErr middleware.ErrorResponse
	status = call(t, http.MethodPost, s.accountURL+"/auth/refresh", "", map[string]string{"refreshToken": alice.RefreshToken}, &refreshErr)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperr.TokenRevoked, refreshErr.Code)
}

func TestAmountsBeyondMoneyScaleAreRejected(t *testing.T) {
	s := newStack(t)
	alice := s.signUp(t, "alice")
	account := s.openAccount(t, alice.AccessToken, "Alice")

	var rejected middleware.ErrorResponse
	status := call(t, http.MethodPost, s.transactionURL+"/transactions/deposit", alice.AccessToken,
		map[string]any{"accountId": account.ID, "amount": "0.00005"}, &rejected)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.AmountPrecision, rejected.Code)

	status = call(t, http.MethodPost, s.transactionURL+"/transactions/deposit", alice.AccessToken,
		map[string]any{"accountId": account.ID, "amount": "1000000000000000"}, &rejected)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.AmountOutOfRange, rejected.Code)

	status = call(t, http.MethodPut, s.accountURL+"/v1/accounts/"+account.ID+"/balance", alice.AccessToken,
		map[string]any{"balance": "1.00005", "expectedVersion": 0, "mutationId": "tan-direct"}, &rejected)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.AmountPrecision, rejected.Code)

	var current models.Account
	status = call(t, http.MethodGet, s.accountURL+"/v1/accounts/"+account.ID, alice.AccessToken, nil, &current)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, current.Balance.IsZero())
	assert.Zero(t, current.Version)
}

func TestOwnershipIsEnforcedAcrossServices(t *testing.T) {
	s := newStack(t)
	alice := s.signUp(t, "alice")
	bob := s.signUp(t, "bob")
	aliceAccount := s.openAccount(t, alice.AccessToken, "Alice")

	var deposit models.Transaction
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, s.transactionURL+"/transactions/deposit", alice.AccessToken,
		map[string]any{"accountId": aliceAccount.ID, "amount": "5"}, &deposit))

	var errResp middleware.ErrorResponse
	status := call(t, http.MethodPost, s.transactionURL+"/transactions/withdraw", bob.AccessToken,
		map[string]any{"accountId": aliceAccount.ID, "amount": "1"}, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.NotOwner, errResp.Code)

	status = call(t, http.MethodGet, s.transactionURL+"/transactions/"+deposit.ID, bob.AccessToken, nil, &errResp)
	assert.Equal(t, http.StatusForbidden, status)

	var bobHistory []models.Transaction
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, s.transactionURL+"/transactions", bob.AccessToken, nil, &bobHistory))
	assert.Empty(t, bobHistory)

	status = call(t, http.MethodPost, s.transactionURL+"/transactions/deposit", alice.AccessToken,
		map[string]any{"accountId": "acc-missing", "amount": "1"}, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.AccountNotFound, errResp.Code)
}

func TestRefreshRotationAcrossReplay(t *testing.T) {
	s := newStack(t)
	alice := s.signUp(t, "alice")

	var first, replay acchandler.AuthResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, s.accountURL+"/auth/refresh", "",
		map[string]string{"refreshToken": alice.RefreshToken}, &first))
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, s.accountURL+"/auth/refresh", "",
		map[string]string{"refreshToken": alice.RefreshToken}, &replay))
	assert.Equal(t, first.RefreshToken, replay.RefreshToken, "a retried refresh gets the same successor")
	assert.NotEqual(t, alice.RefreshToken, first.RefreshToken)

	var accounts acchandler.ListAccountsResponse
	assert.Equal(t, http.StatusOK, call(t, http.MethodGet, s.accountURL+"/v1/accounts", first.AccessToken, nil, &accounts))
}

func TestReconcilerBackfillsUnrecordedTransfer(t *testing.T) {
	s := newStack(t)
	alice := s.signUp(t, "alice")
	account := s.openAccount(t, alice.AccessToken, "Alice")
	ctx := context.Background()

	sub := events.NewSubscriber(s.redis, events.SubscriberConfig{
		Group:         "transaction-service",
		Consumer:      "e2e",
		Stream:        events.AccountEventsStream,
		BlockDuration: 10 * time.Millisecond,
		Handler:       s.reconciler.HandleAccountEvent,
	})
	require.NoError(t, s.redis.XGroupCreateMkStream(ctx, events.AccountEventsStream, "transaction-service", "0").Err())

	s.transfers.FailCommits(true)
	var errResp middleware.ErrorResponse
	status := call(t, http.MethodPost, s.transactionURL+"/transactions/deposit", alice.AccessToken,
		map[string]any{"accountId": account.ID, "amount": "40"}, &errResp)
	require.Equal(t, http.StatusInternalServerError, status)
	s.transfers.FailCommits(false)

	var history []models.Transaction
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, s.transactionURL+"/transactions", alice.AccessToken, nil, &history))
	assert.Empty(t, history, "the balance moved but no row was written yet")

	require.NoError(t, sub.ReadOnce(ctx))

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, s.transactionURL+"/transactions", alice.AccessToken, nil, &history))
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(40)))

	var current models.Account
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, s.accountURL+"/v1/accounts/"+account.ID, alice.AccessToken, nil, &current))
	assert.True(t, current.Balance.Equal(decimal.NewFromInt(40)))
}
