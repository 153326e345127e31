package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eaglebank/moneyflow/shared/models"
)

// Event types
const (
	TransactionCreated = "transaction.created"
	BalanceUpdated     = "balance.updated"
)

// Stream names
const (
	AccountEventsStream     = "account.events"
	TransactionEventsStream = "transaction.events"
)

// Base event structure
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Decode unmarshals the event payload into v. Data arrives as a generic map
// after a round trip through the stream, so it is re-encoded first.
func (e Event) Decode(v any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", e.Type, err)
	}
	return nil
}

// TransferEvent is published once per committed deposit or withdrawal.
type TransferEvent struct {
	Type      models.TransactionType `json:"type"`
	AccountID string                 `json:"accountId"`
	Amount    decimal.Decimal        `json:"amount"`
	Username  string                 `json:"username"`
	Timestamp time.Time              `json:"timestamp"`
}

// BalanceUpdatedEvent is published by the Ownership Store after every
// accepted conditional write. MutationID echoes the writer's intent id.
type BalanceUpdatedEvent struct {
	AccountID  string          `json:"accountId"`
	MutationID string          `json:"mutationId"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Version    int64           `json:"version"`
}
