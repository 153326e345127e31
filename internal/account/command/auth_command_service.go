package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/internal/account/session"
	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/models"
	"github.com/eaglebank/moneyflow/shared/utils"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// SessionManager is the slice of *session.Manager the auth flows use.
type SessionManager interface {
	IssueSession(ctx context.Context, user *models.User) (*session.Pair, error)
	Rotate(ctx context.Context, refreshToken string) (*session.Pair, error)
	Revoke(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// AuthCommandService handles registration, login and the refresh-token
// lifecycle.
type AuthCommandService struct {
	users    UserStore
	sessions SessionManager
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuthCommandService(users UserStore, sessions SessionManager, logger *zap.Logger) *AuthCommandService {
	return &AuthCommandService{users: users, sessions: sessions, logger: logger, now: time.Now}
}

// dummyHash is compared against when the username is unknown so that both
// login failures cost one bcrypt comparison.
var dummyHash, _ = utils.HashPassword("not-a-real-password")

func (s *AuthCommandService) Register(ctx context.Context, cmd cqrs.RegisterCommand) (*session.Pair, error) {
	hash, err := utils.HashPassword(cmd.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to hash password", err)
	}

	user := &models.User{
		ID:           utils.GenerateID("usr"),
		Username:     cmd.Username,
		Email:        cmd.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return s.sessions.IssueSession(ctx, user)
}

func (s *AuthCommandService) Login(ctx context.Context, cmd cqrs.LoginCommand) (*session.Pair, error) {
	user, err := s.users.GetByUsername(ctx, cmd.Username)
	if err != nil {
		if !apperr.HasCode(err, apperr.UserNotFound) {
			return nil, err
		}
		utils.CheckPassword(cmd.Password, dummyHash)
		return nil, apperr.ErrInvalidCredentials
	}
	if !utils.CheckPassword(cmd.Password, user.PasswordHash) {
		return nil, apperr.ErrInvalidCredentials
	}
	return s.sessions.IssueSession(ctx, user)
}

func (s *AuthCommandService) Refresh(ctx context.Context, cmd cqrs.RefreshTokenCommand) (*session.Pair, error) {
	return s.sessions.Rotate(ctx, cmd.RefreshToken)
}

func (s *AuthCommandService) Logout(ctx context.Context, cmd cqrs.LogoutCommand) error {
	return s.sessions.Revoke(ctx, cmd.RefreshToken)
}

// LogoutAll revokes every refresh token of the caller. Access tokens
// already issued stay valid until they expire.
func (s *AuthCommandService) LogoutAll(ctx context.Context, cmd cqrs.LogoutAllCommand) (int64, error) {
	user, err := s.users.GetByUsername(ctx, cmd.Identity.Username)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAll(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("revoked all refresh tokens", zap.String("user_id", user.ID), zap.Int64("count", n))
	return n, nil
}
