package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
)

// AccountReadRepository serves account reads straight from PostgreSQL.
// The version a client reads here is what its conditional write is checked
// against, so there is no cache in front of it.
type AccountReadRepository struct {
	db *sql.DB
}

func NewAccountReadRepository(db *sql.DB) *AccountReadRepository {
	return &AccountReadRepository{db: db}
}

func (r *AccountReadRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT id, owner_user_id, owner_name, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	var account models.Account
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.OwnerUserID, &account.OwnerName, &account.Balance,
		&account.Version, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *AccountReadRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	query := `
		SELECT id, owner_user_id, owner_name, balance, version, created_at, updated_at
		FROM accounts
		WHERE owner_user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.ID, &account.OwnerUserID, &account.OwnerName, &account.Balance,
			&account.Version, &account.CreatedAt, &account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}
