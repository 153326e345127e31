package command

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/identity"
	"github.com/eaglebank/moneyflow/shared/logging"
	"github.com/eaglebank/moneyflow/shared/models"
	"github.com/eaglebank/moneyflow/shared/utils"
)

const (
	DefaultMaxAttempts   = 3
	DefaultNotifyTimeout = 2 * time.Second
	DefaultCommitTimeout = 5 * time.Second
)

// AccountStore is the Ownership Store as seen from this service;
// *client.AccountClient satisfies it.
type AccountStore interface {
	GetAccount(ctx context.Context, id identity.Identity, accountID string) (*models.Account, error)
	UpdateBalance(ctx context.Context, id identity.Identity, accountID string, update models.BalanceUpdate) (*models.Account, error)
}

type TransferStore interface {
	CreateIntent(ctx context.Context, intent *models.TransferIntent) error
	MarkIntent(ctx context.Context, id string, from, to models.IntentStatus, now time.Time) (bool, error)
	CommitIntent(ctx context.Context, id string, now time.Time) (*models.Transaction, error)
}

// RecordReader reads back committed transaction rows.
type RecordReader interface {
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
}

// TransferOrchestrator moves money into and out of accounts it does not
// own. Each attempt reads the account, records a PENDING intent and asks
// the store for a write conditional on the version it read. Only version
// conflicts are retried.
type TransferOrchestrator struct {
	accounts      AccountStore
	transfers     TransferStore
	records       RecordReader
	notifier      events.Notifier
	logger        *zap.Logger
	maxAttempts   int
	notifyTimeout time.Duration
	commitTimeout time.Duration
	newBackOff    func() backoff.BackOff
	now           func() time.Time
}

type OrchestratorOption func(*TransferOrchestrator)

func WithMaxAttempts(n int) OrchestratorOption {
	return func(o *TransferOrchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithNotifyTimeout(d time.Duration) OrchestratorOption {
	return func(o *TransferOrchestrator) { o.notifyTimeout = d }
}

// WithCommitTimeout bounds the local commit that follows a confirmed
// balance write. The commit does not inherit the request's cancellation.
func WithCommitTimeout(d time.Duration) OrchestratorOption {
	return func(o *TransferOrchestrator) { o.commitTimeout = d }
}

// WithBackOff replaces the delay policy between conflict retries.
func WithBackOff(newBackOff func() backoff.BackOff) OrchestratorOption {
	return func(o *TransferOrchestrator) { o.newBackOff = newBackOff }
}

func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *TransferOrchestrator) { o.now = now }
}

func NewTransferOrchestrator(
	accounts AccountStore,
	transfers TransferStore,
	records RecordReader,
	notifier events.Notifier,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *TransferOrchestrator {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &TransferOrchestrator{
		accounts:      accounts,
		transfers:     transfers,
		records:       records,
		notifier:      notifier,
		logger:        logger,
		maxAttempts:   DefaultMaxAttempts,
		notifyTimeout: DefaultNotifyTimeout,
		commitTimeout: DefaultCommitTimeout,
		newBackOff:    conflictBackOff,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	b.Reset()
	return b
}

func (o *TransferOrchestrator) Deposit(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
	return o.transfer(ctx, models.Deposit, cmd)
}

func (o *TransferOrchestrator) Withdraw(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
	return o.transfer(ctx, models.Withdraw, cmd)
}

func (o *TransferOrchestrator) transfer(ctx context.Context, kind models.TransactionType, cmd cqrs.TransferCommand) (*models.Transaction, error) {
	if !cmd.Amount.IsPositive() {
		return nil, apperr.ErrNonPositiveAmount
	}
	if err := models.ValidateMoney(cmd.Amount); err != nil {
		return nil, err
	}

	var (
		txn      *models.Transaction
		attempts int
	)
	operation := func() error {
		attempts++
		t, err := o.attempt(ctx, kind, cmd)
		if err == nil {
			txn = t
			return nil
		}
		if errors.Is(err, apperr.ErrConcurrentMutation) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), uint64(o.maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, o.finalError(err, attempts)
	}

	o.notify(ctx, txn, cmd.Identity.Username)
	return txn, nil
}

func (o *TransferOrchestrator) finalError(err error, attempts int) error {
	switch {
	case errors.Is(err, apperr.ErrConcurrentMutation):
		return apperr.ErrConcurrentMutation.WithDetail("attempts", attempts)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.UpstreamTimeout, "transfer timed out", err)
	}
	return apperr.From(err)
}

// attempt runs one read, intent, conditional write, commit cycle.
func (o *TransferOrchestrator) attempt(ctx context.Context, kind models.TransactionType, cmd cqrs.TransferCommand) (*models.Transaction, error) {
	account, err := o.accounts.GetAccount(ctx, cmd.Identity, cmd.AccountID)
	if err != nil {
		return nil, err
	}

	var newBalance decimal.Decimal
	if kind == models.Withdraw {
		if cmd.Amount.GreaterThan(account.Balance) {
			return nil, apperr.ErrInsufficientFunds.WithDetail("balance", account.Balance.String())
		}
		newBalance = account.Balance.Sub(cmd.Amount)
	} else {
		newBalance = account.Balance.Add(cmd.Amount)
		if !models.InMoneyRange(newBalance) {
			return nil, apperr.ErrAmountOutOfRange.WithDetail("balance", account.Balance.String())
		}
	}

	now := o.now().UTC()
	intent := &models.TransferIntent{
		ID:              utils.GenerateID("tan"),
		AccountID:       account.ID,
		Username:        cmd.Identity.Username,
		Type:            kind,
		Amount:          cmd.Amount,
		ExpectedVersion: account.Version,
		Status:          models.IntentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.transfers.CreateIntent(ctx, intent); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to record transfer intent", err)
	}

	_, err = o.accounts.UpdateBalance(ctx, cmd.Identity, account.ID, models.BalanceUpdate{
		Balance:         newBalance,
		ExpectedVersion: account.Version,
		MutationID:      intent.ID,
	})
	if err != nil {
		o.settleRejected(ctx, intent, err)
		return nil, err
	}

	return o.commit(ctx, intent)
}

// commit records a transfer whose balance write the store has confirmed.
// A caller going away at this point must not leave the row unwritten.
func (o *TransferOrchestrator) commit(ctx context.Context, intent *models.TransferIntent) (*models.Transaction, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.commitTimeout)
	defer cancel()

	committed, err := o.transfers.CommitIntent(cctx, intent.ID, o.now().UTC())
	if err != nil {
		logging.WithContext(ctx, o.logger).Error("balance updated but transaction not recorded",
			zap.String("intent_id", intent.ID),
			zap.String("account_id", intent.AccountID),
			zap.String("amount", intent.Amount.String()),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.Internal, "transfer applied but could not be recorded", err)
	}
	if committed != nil {
		return committed, nil
	}

	// The reconciler saw the store's event first and already wrote the row.
	stored, err := o.records.GetByID(cctx, intent.ID)
	if err != nil {
		logging.WithContext(ctx, o.logger).Warn("failed to read back reconciled transaction",
			zap.String("intent_id", intent.ID),
			zap.Error(err),
		)
		return intent.Transaction(intent.CreatedAt), nil
	}
	return stored, nil
}

// settleRejected records why a conditional write did not land. An unknown
// outcome leaves the intent PENDING for the reconciler.
func (o *TransferOrchestrator) settleRejected(ctx context.Context, intent *models.TransferIntent, cause error) {
	logger := logging.WithContext(ctx, o.logger).With(zap.String("intent_id", intent.ID))

	var to models.IntentStatus
	switch {
	case errors.Is(cause, apperr.ErrConcurrentMutation):
		to = models.IntentConflicted
	case errors.Is(cause, apperr.ErrUpstreamUnknown):
		logger.Warn("balance update outcome unknown, leaving intent pending", zap.Error(cause))
		return
	default:
		to = models.IntentFailed
	}

	if _, err := o.transfers.MarkIntent(ctx, intent.ID, models.IntentPending, to, o.now().UTC()); err != nil {
		logger.Warn("failed to mark transfer intent", zap.String("status", string(to)), zap.Error(err))
	}
}

// notify publishes outside the request's lifetime; failures never reach
// the caller.
func (o *TransferOrchestrator) notify(ctx context.Context, txn *models.Transaction, username string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
	defer cancel()

	err := o.notifier.Notify(nctx, events.TransferEvent{
		Type:      txn.Type,
		AccountID: txn.AccountID,
		Amount:    txn.Amount,
		Username:  username,
		Timestamp: txn.CreatedAt,
	})
	if err != nil {
		logging.WithContext(ctx, o.logger).Warn("failed to publish transfer event",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
	}
}
