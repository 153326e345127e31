package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
	sharedredis "github.com/eaglebank/moneyflow/shared/redis"
)

const transactionViewKeyPrefix = "transaction:view:"

// TransactionReadRepository handles all read operations for transactions.
// Rows are immutable, so single-row lookups are cached in Redis; the
// history query always goes to PostgreSQL.
type TransactionReadRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.Transaction]
}

func NewTransactionReadRepository(db *sql.DB, redisClient *goredis.Client, ttl time.Duration, logger *zap.Logger) *TransactionReadRepository {
	r := &TransactionReadRepository{db: db}
	if redisClient != nil {
		r.cache = sharedredis.NewViewCache[models.Transaction](redisClient, ttl, logger)
	}
	return r
}

// GetByID returns a transaction, trying Redis first then PostgreSQL.
func (r *TransactionReadRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	cacheKey := transactionViewKeyPrefix + id
	if r.cache != nil {
		if txn, ok := r.cache.Get(ctx, cacheKey); ok {
			return txn, nil
		}
	}

	var txn models.Transaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, type, created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&txn.ID, &txn.AccountID, &txn.Amount, &txn.Type, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, cacheKey, &txn)
	}
	return &txn, nil
}

// ListByAccountIDs returns every transaction on the given accounts, oldest
// first.
func (r *TransactionReadRepository) ListByAccountIDs(ctx context.Context, accountIDs []string) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	if len(accountIDs) == 0 {
		return txns, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, amount, type, created_at
		FROM transactions
		WHERE account_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Amount, &txn.Type, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}
