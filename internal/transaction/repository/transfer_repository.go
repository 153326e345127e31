package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/moneyflow/shared/models"
)

// TransferRepository owns transfer intents and the transaction rows they
// turn into. An intent is written before the remote balance write and
// committed, together with its transaction row, once the write is known
// to have landed.
type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) CreateIntent(ctx context.Context, intent *models.TransferIntent) error {
	query := `
		INSERT INTO transfer_intents (id, account_id, username, type, amount, expected_version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		intent.ID, intent.AccountID, intent.Username, intent.Type, intent.Amount,
		intent.ExpectedVersion, intent.Status, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer intent: %w", err)
	}
	return nil
}

// MarkIntent moves an intent from one status to another. It reports false
// when the intent was not in from.
func (r *TransferRepository) MarkIntent(ctx context.Context, id string, from, to models.IntentStatus, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfer_intents SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transfer intent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows == 1, nil
}

// CommitIntent marks a not-yet-committed intent COMMITTED and inserts its
// transaction row in one database transaction. It returns nil when the
// intent is unknown or was already committed, so the orchestrator and the
// reconciler can both call it for the same intent.
func (r *TransferRepository) CommitIntent(ctx context.Context, id string, now time.Time) (*models.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	var txn models.Transaction
	err = tx.QueryRowContext(ctx, `
		UPDATE transfer_intents
		SET status = 'COMMITTED', updated_at = $2
		WHERE id = $1 AND status <> 'COMMITTED'
		RETURNING id, account_id, amount, type
	`, id, now).Scan(&txn.ID, &txn.AccountID, &txn.Amount, &txn.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit transfer intent: %w", err)
	}
	txn.CreatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, amount, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, txn.ID, txn.AccountID, txn.Amount, txn.Type, txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &txn, nil
}

// MarkStale moves intents that have been PENDING since before cutoff to
// STALE and returns their ids.
func (r *TransferRepository) MarkStale(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE transfer_intents
		SET status = 'STALE', updated_at = $2
		WHERE status = 'PENDING' AND created_at < $1
		RETURNING id
	`, cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stale intents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan intent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
