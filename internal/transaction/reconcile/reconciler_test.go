package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/moneyflow/internal/transaction/repository/memory"
	"github.com/eaglebank/moneyflow/shared/events"
	"github.com/eaglebank/moneyflow/shared/models"
)

var epoch = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func pendingIntent(t *testing.T, store *memory.Transfers, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateIntent(context.Background(), &models.TransferIntent{
		ID:        id,
		AccountID: "acc-1",
		Username:  "alice",
		Type:      models.Deposit,
		Amount:    decimal.NewFromInt(25),
		Status:    models.IntentPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}))
}

func newReconciler(store IntentStore) *Reconciler {
	r := NewReconciler(store, Config{Interval: 10 * time.Millisecond, StaleAfter: time.Hour}, nil)
	r.now = func() time.Time { return epoch }
	return r
}

func balanceEvent(mutationID string) events.Event {
	return events.Event{
		ID:   "evt-1",
		Type: events.BalanceUpdated,
		Data: events.BalanceUpdatedEvent{AccountID: "acc-1", MutationID: mutationID, NewBalance: decimal.NewFromInt(25), Version: 1},
	}
}

func TestHandleAccountEventBackfillsPendingIntent(t *testing.T) {
	store := memory.NewTransfers()
	pendingIntent(t, store, "tan-1", epoch.Add(-time.Minute))
	r := newReconciler(store)

	require.NoError(t, r.HandleAccountEvent(context.Background(), balanceEvent("tan-1")))
	require.NoError(t, r.HandleAccountEvent(context.Background(), balanceEvent("tan-1")))

	intent, ok := store.Intent("tan-1")
	require.True(t, ok)
	assert.Equal(t, models.IntentCommitted, intent.Status)

	rows := store.Transactions()
	require.Len(t, rows, 1, "redelivered events must not duplicate history")
	assert.Equal(t, "tan-1", rows[0].ID)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(25)))
}

func TestHandleAccountEventIgnoresUnrelatedEvents(t *testing.T) {
	store := memory.NewTransfers()
	r := newReconciler(store)
	ctx := context.Background()

	assert.NoError(t, r.HandleAccountEvent(ctx, balanceEvent("tan-unknown")))
	assert.NoError(t, r.HandleAccountEvent(ctx, balanceEvent("")))
	assert.NoError(t, r.HandleAccountEvent(ctx, events.Event{Type: events.TransactionCreated}))
	assert.NoError(t, r.HandleAccountEvent(ctx, events.Event{Type: events.BalanceUpdated, Data: "garbage"}))
	assert.Empty(t, store.Transactions())
}

func TestHandleAccountEventSurfacesStoreFailure(t *testing.T) {
	store := memory.NewTransfers()
	pendingIntent(t, store, "tan-1", epoch)
	store.FailCommits(true)
	r := newReconciler(store)

	assert.Error(t, r.HandleAccountEvent(context.Background(), balanceEvent("tan-1")))
}

func TestMarkStale(t *testing.T) {
	store := memory.NewTransfers()
	pendingIntent(t, store, "tan-old", epoch.Add(-2*time.Hour))
	pendingIntent(t, store, "tan-new", epoch.Add(-10*time.Minute))
	pendingIntent(t, store, "tan-done", epoch.Add(-3*time.Hour))
	_, err := store.CommitIntent(context.Background(), "tan-done", epoch)
	require.NoError(t, err)
	r := newReconciler(store)

	n, err := r.MarkStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, _ := store.Intent("tan-old")
	assert.Equal(t, models.IntentStale, old.Status)
	fresh, _ := store.Intent("tan-new")
	assert.Equal(t, models.IntentPending, fresh.Status)
	done, _ := store.Intent("tan-done")
	assert.Equal(t, models.IntentCommitted, done.Status)
}

type failingStore struct{ memory.Transfers }

func (*failingStore) MarkStale(context.Context, time.Time, time.Time) ([]string, error) {
	return nil, errors.New("database unavailable")
}

func TestMarkStaleFailure(t *testing.T) {
	r := newReconciler(&failingStore{})
	_, err := r.MarkStale(context.Background(), time.Hour)
	assert.Error(t, err)
}

func TestRunConsumesStreamAndSweeps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := memory.NewTransfers()
	pendingIntent(t, store, "tan-live", epoch)
	pendingIntent(t, store, "tan-old", epoch.Add(-2*time.Hour))
	r := newReconciler(store)

	source := events.NewSubscriber(client, events.SubscriberConfig{
		Group:         "transaction-service",
		Consumer:      "test",
		Stream:        events.AccountEventsStream,
		BlockDuration: 10 * time.Millisecond,
		Handler:       r.HandleAccountEvent,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, source) }()

	publisher := events.NewPublisher(client)
	require.NoError(t, publisher.Publish(ctx, events.AccountEventsStream, events.BalanceUpdated, events.BalanceUpdatedEvent{
		AccountID: "acc-1", MutationID: "tan-live", NewBalance: decimal.NewFromInt(25), Version: 1,
	}))

	assert.Eventually(t, func() bool {
		live, _ := store.Intent("tan-live")
		old, _ := store.Intent("tan-old")
		return live.Status == models.IntentCommitted && old.Status == models.IntentStale
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
