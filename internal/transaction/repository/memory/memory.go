// Package memory provides an in-process transfer store with the same
// conditional semantics as the Postgres repositories, for tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/models"
)

type Transfers struct {
	mu      sync.Mutex
	intents map[string]models.TransferIntent
	txns    map[string]models.Transaction
	failing bool
}

func NewTransfers() *Transfers {
	return &Transfers{
		intents: make(map[string]models.TransferIntent),
		txns:    make(map[string]models.Transaction),
	}
}

// FailCommits makes CommitIntent fail while on, simulating a local
// database outage after the remote write.
func (s *Transfers) FailCommits(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = on
}

func (s *Transfers) CreateIntent(_ context.Context, intent *models.TransferIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = *intent
	return nil
}

func (s *Transfers) MarkIntent(_ context.Context, id string, from, to models.IntentStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.intents[id]
	if !ok || i.Status != from {
		return false, nil
	}
	i.Status = to
	i.UpdatedAt = now
	s.intents[id] = i
	return true, nil
}

// CommitIntent fails on a done context, as opening a database transaction
// would.
func (s *Transfers) CommitIntent(ctx context.Context, id string, now time.Time) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("database unavailable")
	}
	i, ok := s.intents[id]
	if !ok || i.Status == models.IntentCommitted {
		return nil, nil
	}
	i.Status = models.IntentCommitted
	i.UpdatedAt = now
	s.intents[id] = i

	txn := i.Transaction(now)
	if _, exists := s.txns[txn.ID]; !exists {
		s.txns[txn.ID] = *txn
	}
	return txn, nil
}

func (s *Transfers) MarkStale(_ context.Context, cutoff, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, i := range s.intents {
		if i.Status == models.IntentPending && i.CreatedAt.Before(cutoff) {
			i.Status = models.IntentStale
			i.UpdatedAt = now
			s.intents[id] = i
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Transfers) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, apperr.ErrTransactionNotFound
	}
	return &t, nil
}

func (s *Transfers) ListByAccountIDs(_ context.Context, accountIDs []string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}
	out := []models.Transaction{}
	for _, t := range s.txns {
		if wanted[t.AccountID] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Intent returns a copy of the stored intent.
func (s *Transfers) Intent(id string) (models.TransferIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.intents[id]
	return i, ok
}

// Intents returns every stored intent with the given status.
func (s *Transfers) Intents(status models.IntentStatus) []models.TransferIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TransferIntent
	for _, i := range s.intents {
		if i.Status == status {
			out = append(out, i)
		}
	}
	return out
}

// Transactions returns every stored transaction row.
func (s *Transfers) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, 0, len(s.txns))
	for _, t := range s.txns {
		out = append(out, t)
	}
	return out
}
