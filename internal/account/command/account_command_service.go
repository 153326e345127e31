package command

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/models"
	"github.com/eaglebank/moneyflow/shared/utils"
)

type AccountWriter interface {
	Create(ctx context.Context, account *models.Account) error
	UpdateBalance(ctx context.Context, id, ownerID string, balance decimal.Decimal, expectedVersion int64, now time.Time) (*models.Account, error)
}

type AccountReader interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

type UserReader interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// AccountCommandService is the write side of the Ownership Store.
type AccountCommandService struct {
	users     UserReader
	writeRepo AccountWriter
	readRepo  AccountReader
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewAccountCommandService(
	users UserReader,
	writeRepo AccountWriter,
	readRepo AccountReader,
	publisher EventPublisher,
	logger *zap.Logger,
) *AccountCommandService {
	return &AccountCommandService{
		users:     users,
		writeRepo: writeRepo,
		readRepo:  readRepo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *AccountCommandService) CreateAccount(ctx context.Context, cmd cqrs.CreateAccountCommand) (*models.Account, error) {
	owner, err := s.owner(ctx, cmd.Identity.Username)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:          utils.GenerateID("acc"),
		OwnerUserID: owner.ID,
		OwnerName:   cmd.OwnerName,
		Balance:     decimal.Zero,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.writeRepo.Create(ctx, account); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create account", err)
	}
	return account, nil
}

// UpdateBalance applies a conditional balance write for the account owner.
// It succeeds only while the stored version equals ExpectedVersion and then
// advances the version by exactly one.
func (s *AccountCommandService) UpdateBalance(ctx context.Context, cmd cqrs.UpdateBalanceCommand) (*models.Account, error) {
	if cmd.Update.Balance.IsNegative() {
		return nil, apperr.New(apperr.NegativeBalance, "balance must not be negative")
	}
	if err := models.ValidateMoney(cmd.Update.Balance); err != nil {
		return nil, err
	}

	owner, err := s.owner(ctx, cmd.Identity.Username)
	if err != nil {
		return nil, err
	}
	current, err := s.readRepo.GetByID(ctx, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if current.OwnerUserID != owner.ID {
		return nil, apperr.ErrNotOwner
	}
	if current.Version != cmd.Update.ExpectedVersion {
		return nil, apperr.ErrConcurrentMutation.
			WithDetail("expectedVersion", cmd.Update.ExpectedVersion).
			WithDetail("currentVersion", current.Version)
	}

	updated, err := s.writeRepo.UpdateBalance(ctx, cmd.AccountID, owner.ID, cmd.Update.Balance, cmd.Update.ExpectedVersion, s.now().UTC())
	if err != nil {
		if apperr.HasCode(err, apperr.ConcurrentMutation) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to update balance", err)
	}

	if err := s.publisher.Publish(ctx, events.AccountEventsStream, events.BalanceUpdated, events.BalanceUpdatedEvent{
		AccountID:  updated.ID,
		MutationID: cmd.Update.MutationID,
		NewBalance: updated.Balance,
		Version:    updated.Version,
	}); err != nil {
		s.logger.Warn("failed to publish balance.updated event",
			zap.String("account_id", updated.ID),
			zap.String("mutation_id", cmd.Update.MutationID),
			zap.Error(err),
		)
	}

	s.logger.Info("balance updated",
		zap.String("account_id", updated.ID),
		zap.String("mutation_id", cmd.Update.MutationID),
		zap.Int64("version", updated.Version),
	)
	return updated, nil
}

func (s *AccountCommandService) owner(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.HasCode(err, apperr.UserNotFound) {
			// A valid token whose user no longer exists.
			return nil, apperr.Wrap(apperr.TokenMalformed, "token subject is unknown", err)
		}
		return nil, err
	}
	return user, nil
}
