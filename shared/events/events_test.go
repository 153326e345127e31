package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/moneyflow/shared/models"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func sampleTransfer() TransferEvent {
	return TransferEvent{
		Type:      models.Withdraw,
		AccountID: "acc-1",
		Amount:    decimal.RequireFromString("30.50"),
		Username:  "alice",
		Timestamp: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestStreamNotifierPublishesStructuredEvent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	err := NewStreamNotifier(NewPublisher(client)).Notify(ctx, sampleTransfer())
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, TransactionEventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["event"].(string)), &event))
	assert.Equal(t, TransactionCreated, event.Type)
	assert.NotEmpty(t, event.ID)

	var got TransferEvent
	require.NoError(t, event.Decode(&got))
	assert.Equal(t, models.Withdraw, got.Type)
	assert.Equal(t, "acc-1", got.AccountID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("30.5")))
	assert.Equal(t, "alice", got.Username)
}

func TestSubscriberDispatchesAndAcks(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	var received []BalanceUpdatedEvent
	sub := NewSubscriber(client, SubscriberConfig{
		Group:         "test-group",
		Consumer:      "test-consumer",
		Stream:        AccountEventsStream,
		BlockDuration: 10 * time.Millisecond,
		Handler: func(ctx context.Context, event Event) error {
			var data BalanceUpdatedEvent
			if err := event.Decode(&data); err != nil {
				return err
			}
			received = append(received, data)
			return nil
		},
	})
	require.NoError(t, client.XGroupCreateMkStream(ctx, AccountEventsStream, "test-group", "0").Err())

	err := NewPublisher(client).Publish(ctx, AccountEventsStream, BalanceUpdated, BalanceUpdatedEvent{
		AccountID:  "acc-9",
		MutationID: "tan-abc",
		NewBalance: decimal.NewFromInt(70),
		Version:    2,
	})
	require.NoError(t, err)

	require.NoError(t, sub.ReadOnce(ctx))
	require.Len(t, received, 1)
	assert.Equal(t, "tan-abc", received[0].MutationID)
	assert.Equal(t, int64(2), received[0].Version)
}

func TestSubscriberRedeliversFailedMessages(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	var calls int
	sub := NewSubscriber(client, SubscriberConfig{
		Group:         "test-group",
		Consumer:      "test-consumer",
		Stream:        AccountEventsStream,
		BlockDuration: 10 * time.Millisecond,
		Handler: func(ctx context.Context, event Event) error {
			calls++
			if calls == 1 {
				return errors.New("database unavailable")
			}
			return nil
		},
	})
	require.NoError(t, client.XGroupCreateMkStream(ctx, AccountEventsStream, "test-group", "0").Err())
	require.NoError(t, NewPublisher(client).Publish(ctx, AccountEventsStream, BalanceUpdated, BalanceUpdatedEvent{
		AccountID:  "acc-9",
		MutationID: "tan-retry",
		NewBalance: decimal.NewFromInt(10),
		Version:    1,
	}))

	require.NoError(t, sub.ReadOnce(ctx))
	assert.Equal(t, 1, calls)
	pending, err := client.XPending(ctx, AccountEventsStream, "test-group").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count, "failed message must stay pending")

	require.NoError(t, sub.ReadOnce(ctx))
	assert.Equal(t, 2, calls, "pending message must be handed to the handler again")
	pending, err = client.XPending(ctx, AccountEventsStream, "test-group").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	require.NoError(t, sub.ReadOnce(ctx))
	assert.Equal(t, 2, calls, "acked message must not be redelivered")
}

func TestSubscriberAcksMalformedMessages(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	var calls int
	sub := NewSubscriber(client, SubscriberConfig{
		Group:         "test-group",
		Consumer:      "test-consumer",
		Stream:        AccountEventsStream,
		BlockDuration: 10 * time.Millisecond,
		Handler: func(context.Context, Event) error {
			calls++
			return nil
		},
	})
	require.NoError(t, client.XGroupCreateMkStream(ctx, AccountEventsStream, "test-group", "0").Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: AccountEventsStream,
		Values: map[string]any{"event": "{not json"},
	}).Err())

	require.NoError(t, sub.ReadOnce(ctx))
	require.NoError(t, sub.ReadOnce(ctx))
	assert.Zero(t, calls)
	pending, err := client.XPending(ctx, AccountEventsStream, "test-group").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

type fakeAMQPChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (f *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeAMQPChannel) Close() error { return nil }

func TestAMQPNotifier(t *testing.T) {
	ch := &fakeAMQPChannel{}
	notifier := NewAMQPNotifier(ch, "")

	require.NoError(t, notifier.Notify(context.Background(), sampleTransfer()))
	assert.Equal(t, TransfersTopic, ch.exchange)
	assert.Equal(t, "transaction.withdraw", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	var event Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &event))
	assert.Equal(t, ch.msg.MessageId, event.ID)

	ch.err = errors.New("channel closed")
	assert.Error(t, notifier.Notify(context.Background(), sampleTransfer()))
}
