package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
	sharedredis "github.com/eaglebank/moneyflow/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const userViewKeyPrefix = "user:view:"

// UserRepository stores registered users. Users are never updated, so
// lookups by username are served from Redis once warmed.
type UserRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.User]
}

func NewUserRepository(db *sql.DB, redisClient *goredis.Client, logger *zap.Logger) *UserRepository {
	r := &UserRepository{db: db}
	if redisClient != nil {
		r.cache = sharedredis.NewViewCache[models.User](redisClient, 10*time.Minute, logger)
	}
	return r
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt,
	)
	if err != nil {
		switch uniqueConstraint(err) {
		case "users_username_key":
			return apperr.New(apperr.DuplicateUsername, "username is already taken")
		case "users_email_key":
			return apperr.New(apperr.DuplicateEmail, "email is already registered")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if r.cache != nil {
		if user, ok := r.cache.Get(ctx, userViewKeyPrefix+username); ok {
			return user, nil
		}
	}

	user, err := r.scanOne(ctx, `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE username = $1
	`, username)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, userViewKeyPrefix+username, user)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.scanOne(ctx, `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *UserRepository) scanOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
