package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// TransfersTopic is the single topic carrying TransferEvents on a broker.
const TransfersTopic = "transactions"

// Notifier publishes transfer events. Callers treat every error as
// non-fatal: notification is outside the consistency boundary.
type Notifier interface {
	Notify(ctx context.Context, event TransferEvent) error
}

// StreamNotifier publishes to the transaction.events Redis stream.
type StreamNotifier struct {
	publisher *Publisher
}

func NewStreamNotifier(publisher *Publisher) *StreamNotifier {
	return &StreamNotifier{publisher: publisher}
}

func (n *StreamNotifier) Notify(ctx context.Context, event TransferEvent) error {
	return n.publisher.Publish(ctx, TransactionEventsStream, TransactionCreated, event)
}

// AMQPChannel is the subset of *amqp.Channel the notifier needs.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes to a durable topic exchange, routing by transfer type.
type AMQPNotifier struct {
	ch       AMQPChannel
	exchange string
}

func NewAMQPNotifier(ch AMQPChannel, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = TransfersTopic
	}
	return &AMQPNotifier{ch: ch, exchange: exchange}
}

// DialAMQP connects, declares the exchange and returns a ready notifier and
// a close func for the underlying connection.
func DialAMQP(url, exchange string) (*AMQPNotifier, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if exchange == "" {
		exchange = TransfersTopic
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	closeFn := func() error {
		ch.Close()
		return conn.Close()
	}
	return NewAMQPNotifier(ch, exchange), closeFn, nil
}

// RoutingKey returns transaction.deposit or transaction.withdraw.
func RoutingKey(event TransferEvent) string {
	return "transaction." + strings.ToLower(string(event.Type))
}

func (n *AMQPNotifier) Notify(ctx context.Context, event TransferEvent) error {
	envelope := Event{
		ID:        uuid.NewString(),
		Type:      TransactionCreated,
		Timestamp: time.Now().UTC(),
		Data:      event,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    envelope.ID,
		Timestamp:    envelope.Timestamp,
		Type:         envelope.Type,
		Body:         body,
	}
	if err := n.ch.PublishWithContext(ctx, n.exchange, RoutingKey(event), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, TransferEvent) error { return nil }
