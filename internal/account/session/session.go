// Package session manages refresh tokens: issuing, verifying, rotating,
// revoking and sweeping them. Access tokens come from shared/tokens and are
// never stored.
//
// A refresh token moves one way through ACTIVE -> {EXPIRED, REVOKED} ->
// DELETED. Every transition is a conditional statement in the store, so two
// replicas racing on the same token cannot both win.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
	"github.com/eaglebank/moneyflow/shared/utils"
)

const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// TokenStore is the persistence the manager needs; tokens are addressed by
// the SHA-256 of their raw value.
type TokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	DeleteIfExpired(ctx context.Context, id string, now time.Time) error
	Rotate(ctx context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error)
	RevokeByHash(ctx context.Context, hash string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AccessIssuer signs access tokens; *tokens.Issuer satisfies it.
type AccessIssuer interface {
	Issue(username string) (string, error)
}

// Pair is what a client receives after login, registration or refresh.
// RefreshToken is the raw value and is only ever returned here.
type Pair struct {
	Username     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Manager struct {
	store  TokenStore
	users  UserReader
	access AccessIssuer
	grace  GraceCache
	ttl    time.Duration
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithGraceWindow lets a client that lost the response to a refresh retry
// with the old token for window and get the same successor back. A zero
// window or nil cache disables it.
func WithGraceWindow(cache GraceCache, window time.Duration) Option {
	return func(m *Manager) {
		m.grace = cache
		m.window = window
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(store TokenStore, users UserReader, access AccessIssuer, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		users:  users,
		access: access,
		ttl:    DefaultRefreshTokenTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IssueRefreshToken creates and stores a fresh ACTIVE token for userID.
func (m *Manager) IssueRefreshToken(ctx context.Context, userID string) (*models.RefreshToken, error) {
	token, err := m.newRefreshToken(userID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, token); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to store refresh token", err)
	}
	return token, nil
}

// IssueSession signs an access token for user and pairs it with a new
// refresh token.
func (m *Manager) IssueSession(ctx context.Context, user *models.User) (*Pair, error) {
	refresh, err := m.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return m.pair(user.Username, refresh.Token, refresh.ExpiryDate)
}

// Verify returns the stored token if it is usable. An expired token is
// deleted on the way out and reported as expired; expiry is checked before
// revocation.
func (m *Manager) Verify(ctx context.Context, rawToken string) (*models.RefreshToken, error) {
	if rawToken == "" {
		return nil, apperr.ErrTokenNotFound
	}
	token, err := m.store.GetByHash(ctx, utils.HashToken(rawToken))
	if err != nil {
		return nil, lookupError(err)
	}

	now := m.now()
	if token.IsExpired(now) {
		if err := m.store.DeleteIfExpired(ctx, token.ID, now); err != nil {
			m.logger.Warn("failed to delete expired refresh token", zap.String("token_id", token.ID), zap.Error(err))
		}
		return nil, apperr.ErrTokenExpired
	}
	if token.Revoked {
		return token, apperr.ErrTokenRevoked
	}
	return token, nil
}

// Rotate exchanges a usable refresh token for a new pair. The old token is
// revoked in the same store transaction that creates its successor, so of
// two concurrent refreshes exactly one succeeds. Inside the grace window a
// retry with the old token is answered with the same successor.
func (m *Manager) Rotate(ctx context.Context, rawToken string) (*Pair, error) {
	old, err := m.Verify(ctx, rawToken)
	if errors.Is(err, apperr.ErrTokenRevoked) {
		if pair, ok := m.replay(ctx, rawToken, old); ok {
			return pair, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	user, err := m.users.GetByID(ctx, old.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load token owner", err)
	}

	successor, err := m.newRefreshToken(old.UserID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	claimed, err := m.store.Rotate(ctx, old.ID, successor, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to rotate refresh token", err)
	}
	if !claimed {
		// Lost to a concurrent refresh or revocation of the same token.
		if pair, ok := m.replay(ctx, rawToken, old); ok {
			return pair, nil
		}
		return nil, apperr.ErrTokenRevoked
	}

	if m.graceEnabled() {
		grace, err := newRotationGrace(rawToken, successor.Token, successor.ID, now.Add(m.window))
		if err != nil {
			m.logger.Warn("failed to seal rotation grace", zap.String("token_id", old.ID), zap.Error(err))
		} else {
			m.grace.Remember(ctx, utils.HashToken(rawToken), grace)
		}
	}

	m.logger.Debug("refresh token rotated",
		zap.String("user_id", old.UserID),
		zap.String("old_token_id", old.ID),
		zap.String("new_token_id", successor.ID),
	)
	return m.pair(user.Username, successor.Token, successor.ExpiryDate)
}

// Revoke marks the token revoked. Unknown and already-revoked tokens are
// not an error.
func (m *Manager) Revoke(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	if err := m.store.RevokeByHash(ctx, utils.HashToken(rawToken)); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to revoke refresh token", err)
	}
	return nil
}

// RevokeAll revokes every refresh token of userID and returns how many
// were still active.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to revoke refresh tokens", err)
	}
	return n, nil
}

// SweepExpired deletes every token whose expiry lies before the current
// time and returns the number removed.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredBefore(ctx, m.now())
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to sweep refresh tokens", err)
	}
	return n, nil
}

func (m *Manager) graceEnabled() bool {
	return m.grace != nil && m.window > 0
}

// replay answers a retried refresh from the grace cache while the
// successor it handed out is still usable.
func (m *Manager) replay(ctx context.Context, rawToken string, old *models.RefreshToken) (*Pair, bool) {
	if !m.graceEnabled() || old == nil {
		return nil, false
	}
	grace, ok := m.grace.Lookup(ctx, utils.HashToken(rawToken))
	if !ok {
		return nil, false
	}
	now := m.now()
	if !now.Before(grace.Until) {
		return nil, false
	}

	successorRaw, err := grace.Successor(rawToken)
	if err != nil {
		return nil, false
	}
	successor, err := m.store.GetByHash(ctx, utils.HashToken(successorRaw))
	if err != nil || successor.ID != grace.SuccessorID || !successor.IsUsable(now) {
		return nil, false
	}
	user, err := m.users.GetByID(ctx, successor.UserID)
	if err != nil {
		return nil, false
	}
	pair, err := m.pair(user.Username, successorRaw, successor.ExpiryDate)
	if err != nil {
		return nil, false
	}
	return pair, true
}

func (m *Manager) newRefreshToken(userID string) (*models.RefreshToken, error) {
	raw, err := utils.GenerateOpaqueToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to generate refresh token", err)
	}
	now := m.now()
	return &models.RefreshToken{
		ID:         utils.GenerateID("rtk"),
		Token:      raw,
		TokenHash:  utils.HashToken(raw),
		UserID:     userID,
		ExpiryDate: now.Add(m.ttl),
		CreatedAt:  now,
	}, nil
}

func (m *Manager) pair(username, refreshToken string, expiresAt time.Time) (*Pair, error) {
	access, err := m.access.Issue(username)
	if err != nil {
		return nil, err
	}
	return &Pair{
		Username:     username,
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func lookupError(err error) error {
	if apperr.HasCode(err, apperr.TokenNotFound) {
		return err
	}
	return apperr.Wrap(apperr.Internal, "failed to look up refresh token", err)
}
