package query

import (
	"context"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/models"
)

type AccountReader interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Account, error)
}

type UserReader interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type AccountQueryService struct {
	users    UserReader
	readRepo AccountReader
}

func NewAccountQueryService(users UserReader, readRepo AccountReader) *AccountQueryService {
	return &AccountQueryService{users: users, readRepo: readRepo}
}

// GetAccount fetches a single account and enforces ownership. A missing
// account is reported before ownership is checked.
func (s *AccountQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.Account, error) {
	account, err := s.readRepo.GetByID(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}

	owner, err := s.owner(ctx, q.Identity.Username)
	if err != nil {
		return nil, err
	}
	if account.OwnerUserID != owner.ID {
		return nil, apperr.ErrNotOwner
	}
	return account, nil
}

func (s *AccountQueryService) ListAccounts(ctx context.Context, q cqrs.ListAccountsQuery) ([]models.Account, error) {
	owner, err := s.owner(ctx, q.Identity.Username)
	if err != nil {
		return nil, err
	}
	return s.readRepo.ListByOwner(ctx, owner.ID)
}

func (s *AccountQueryService) owner(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.HasCode(err, apperr.UserNotFound) {
			return nil, apperr.Wrap(apperr.TokenMalformed, "token subject is unknown", err)
		}
		return nil, err
	}
	return user, nil
}
