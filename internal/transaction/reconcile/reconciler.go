// Package reconcile closes the window between a confirmed balance write in
// the Ownership Store and the local transaction row that records it.
//
// The store publishes balance.updated for every accepted write, echoing the
// writer's mutation id. When that id names an intent this service has not
// committed, the reconciler commits it. Intents that stay PENDING past a
// threshold are marked STALE for manual review.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/models"
)

const (
	DefaultInterval   = 15 * time.Minute
	DefaultStaleAfter = time.Hour
)

// IntentStore is satisfied by *repository.TransferRepository.
type IntentStore interface {
	CommitIntent(ctx context.Context, id string, now time.Time) (*models.Transaction, error)
	MarkStale(ctx context.Context, cutoff, now time.Time) ([]string, error)
}

// EventSource delivers account events until ctx is done; *events.Subscriber
// satisfies it.
type EventSource interface {
	Start(ctx context.Context) error
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type Reconciler struct {
	store  IntentStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(store IntentStore, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// HandleAccountEvent is an events.Handler for the account.events stream.
// Returning an error leaves the message un-acked for redelivery; unknown
// and already-committed mutation ids are acknowledged.
func (r *Reconciler) HandleAccountEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.BalanceUpdated {
		return nil
	}
	var data events.BalanceUpdatedEvent
	if err := event.Decode(&data); err != nil {
		r.logger.Warn("dropping malformed balance event", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	if data.MutationID == "" {
		return nil
	}

	txn, err := r.store.CommitIntent(ctx, data.MutationID, r.now().UTC())
	if err != nil {
		return err
	}
	if txn != nil {
		r.logger.Info("backfilled transaction from balance event",
			zap.String("intent_id", data.MutationID),
			zap.String("account_id", data.AccountID),
			zap.Int64("version", data.Version),
		)
	}
	return nil
}

// MarkStale moves intents pending for longer than olderThan to STALE and
// returns how many moved.
func (r *Reconciler) MarkStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := r.now().UTC()
	ids, err := r.store.MarkStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		r.logger.Warn("transfer intent stale, needs manual review", zap.String("intent_id", id))
	}
	return len(ids), nil
}

// Run consumes account events from source and marks stale intents every
// interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, source EventSource) error {
	g, ctx := errgroup.WithContext(ctx)
	if source != nil {
		g.Go(func() error { return source.Start(ctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := r.MarkStale(ctx, r.cfg.StaleAfter); err != nil && ctx.Err() == nil {
					r.logger.Error("stale intent sweep failed", zap.Error(err))
				}
			}
		}
	})
	return g.Wait()
}
