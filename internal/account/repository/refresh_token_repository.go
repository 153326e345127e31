package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
)

// RefreshTokenRepository persists refresh tokens by hash. Every state
// change is a single conditional statement, so concurrent callers resolve
// in the database rather than in process.
type RefreshTokenRepository struct {
	db *sql.DB
}

func NewRefreshTokenRepository(db *sql.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	return insertRefreshToken(ctx, r.db, token)
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `
		SELECT id, token_hash, user_id, expiry_date, revoked, COALESCE(replaced_by, ''), created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	var token models.RefreshToken
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID, &token.TokenHash, &token.UserID, &token.ExpiryDate,
		&token.Revoked, &token.ReplacedBy, &token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &token, nil
}

// DeleteIfExpired removes the row only if it has in fact expired at now.
func (r *RefreshTokenRepository) DeleteIfExpired(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1 AND expiry_date <= $2`, id, now)
	if err != nil {
		return fmt.Errorf("failed to delete expired refresh token: %w", err)
	}
	return nil
}

// Rotate claims the old token and stores its successor in one transaction.
// It returns false when the old token was no longer active, in which case
// nothing is written.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin rotation: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, replaced_by = $2
		WHERE id = $1 AND revoked = FALSE AND expiry_date > $3
	`, oldID, successor.ID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim refresh token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if err := insertRefreshToken(ctx, tx, successor); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return true, nil
}

func (r *RefreshTokenRepository) RevokeByHash(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND revoked = FALSE`, hash)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredBefore removes every token whose expiry lies before now and
// reports how many rows went.
func (r *RefreshTokenRepository) DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expiry_date < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token_hash, user_id, expiry_date, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.ExecContext(ctx, query,
		token.ID, token.TokenHash, token.UserID, token.ExpiryDate, token.Revoked, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}
