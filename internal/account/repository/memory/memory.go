// Package memory provides in-process stores with the same conditional
// semantics as the Postgres repositories. They back unit and end-to-end
// tests; each method holds the store mutex for the duration of what is a
// single statement in SQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
)

type Users struct {
	mu   sync.Mutex
	byID map[string]models.User
}

func NewUsers() *Users {
	return &Users{byID: make(map[string]models.User)}
}

func (s *Users) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Username == user.Username {
			return apperr.New(apperr.DuplicateUsername, "username is already taken")
		}
		if u.Email == user.Email {
			return apperr.New(apperr.DuplicateEmail, "email is already registered")
		}
	}
	s.byID[user.ID] = *user
	return nil
}

func (s *Users) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, apperr.ErrUserNotFound
}

func (s *Users) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	return &u, nil
}

type Accounts struct {
	mu   sync.Mutex
	byID map[string]models.Account
}

func NewAccounts() *Accounts {
	return &Accounts{byID: make(map[string]models.Account)}
}

func (s *Accounts) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[account.ID] = *account
	return nil
}

func (s *Accounts) UpdateBalance(_ context.Context, id, ownerID string, balance decimal.Decimal, expectedVersion int64, now time.Time) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.OwnerUserID != ownerID || a.Version != expectedVersion {
		return nil, apperr.ErrConcurrentMutation
	}
	a.Balance = balance
	a.Version++
	a.UpdatedAt = now
	s.byID[id] = a
	return &a, nil
}

func (s *Accounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, apperr.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Accounts) ListByOwner(_ context.Context, ownerID string) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Account{}
	for _, a := range s.byID {
		if a.OwnerUserID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type RefreshTokens struct {
	mu   sync.Mutex
	byID map[string]models.RefreshToken
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{byID: make(map[string]models.RefreshToken)}
}

func (s *RefreshTokens) Create(_ context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[token.ID] = stored(token)
	return nil
}

func (s *RefreshTokens) GetByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byID {
		if t.TokenHash == hash {
			t := t
			return &t, nil
		}
	}
	return nil, apperr.ErrTokenNotFound
}

func (s *RefreshTokens) DeleteIfExpired(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byID[id]; ok && !now.Before(t.ExpiryDate) {
		delete(s.byID, id)
	}
	return nil
}

func (s *RefreshTokens) Rotate(_ context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[oldID]
	if !ok || t.Revoked || !now.Before(t.ExpiryDate) {
		return false, nil
	}
	t.Revoked = true
	t.ReplacedBy = successor.ID
	s.byID[oldID] = t
	s.byID[successor.ID] = stored(successor)
	return true, nil
}

func (s *RefreshTokens) RevokeByHash(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.byID {
		if t.TokenHash == hash {
			t.Revoked = true
			s.byID[id] = t
		}
	}
	return nil
}

func (s *RefreshTokens) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.byID {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			s.byID[id] = t
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokens) DeleteExpiredBefore(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.byID {
		if t.ExpiryDate.Before(now) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// Len reports how many token rows remain.
func (s *RefreshTokens) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// stored drops the raw token, which the database never sees.
func stored(t *models.RefreshToken) models.RefreshToken {
	cp := *t
	cp.Token = ""
	return cp
}
