package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
)

// AccountWriteRepository handles all state-mutating operations for accounts.
// Balance writes are conditional on the caller's expected version.
type AccountWriteRepository struct {
	db *sql.DB
}

func NewAccountWriteRepository(db *sql.DB) *AccountWriteRepository {
	return &AccountWriteRepository{db: db}
}

func (r *AccountWriteRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, owner_user_id, owner_name, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.OwnerUserID, account.OwnerName, account.Balance,
		account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateBalance sets the balance and bumps the version in one statement,
// but only while the row is still owned by ownerID and at expectedVersion.
// A lost race is reported as ConcurrentMutation.
func (r *AccountWriteRepository) UpdateBalance(ctx context.Context, id, ownerID string, balance decimal.Decimal, expectedVersion int64, now time.Time) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET balance = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND owner_user_id = $2 AND version = $3
		RETURNING id, owner_user_id, owner_name, balance, version, created_at, updated_at
	`
	var account models.Account
	err := r.db.QueryRowContext(ctx, query, id, ownerID, expectedVersion, balance, now).Scan(
		&account.ID, &account.OwnerUserID, &account.OwnerName, &account.Balance,
		&account.Version, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrConcurrentMutation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return &account, nil
}
