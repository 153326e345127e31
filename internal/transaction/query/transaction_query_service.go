package query

import (
	"context"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/identity"
	"github.com/eaglebank/moneyflow/shared/models"
)

// AccountLister resolves the caller's accounts in the Ownership Store with
// the caller's own bearer.
type AccountLister interface {
	GetAccount(ctx context.Context, id identity.Identity, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context, id identity.Identity) ([]models.Account, error)
}

type TransactionReader interface {
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	ListByAccountIDs(ctx context.Context, accountIDs []string) ([]models.Transaction, error)
}

// TransactionQueryService serves transaction history. Ownership is always
// decided by the store, never by local data.
type TransactionQueryService struct {
	accounts AccountLister
	readRepo TransactionReader
}

func NewTransactionQueryService(accounts AccountLister, readRepo TransactionReader) *TransactionQueryService {
	return &TransactionQueryService{accounts: accounts, readRepo: readRepo}
}

// ListTransactions returns every transaction on the caller's accounts,
// oldest first. If the store cannot be asked which accounts those are, the
// call fails rather than answering with an empty history.
func (s *TransactionQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.Transaction, error) {
	accounts, err := s.accounts.ListAccounts(ctx, q.Identity)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return []models.Transaction{}, nil
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	txns, err := s.readRepo.ListByAccountIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list transactions", err)
	}
	return txns, nil
}

// GetTransaction reports a missing transaction before checking that its
// account belongs to the caller.
func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
	txn, err := s.readRepo.GetByID(ctx, q.TransactionID)
	if err != nil {
		if apperr.HasCode(err, apperr.TransactionNotFound) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load transaction", err)
	}

	if _, err := s.accounts.GetAccount(ctx, q.Identity, txn.AccountID); err != nil {
		return nil, err
	}
	return txn, nil
}
