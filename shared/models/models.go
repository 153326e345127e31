package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/eaglebank/moneyflow/shared/apperr"
)

// AccountSchemaVersion names the Account wire contract shared by the
// Ownership Store and its clients. It is mirrored in the /v1 route prefix.
const AccountSchemaVersion = "v1"

const RoleUser = "USER"

// Money columns are NUMERIC(MoneyPrecision, MoneyScale) in every service.
const (
	MoneyPrecision = 19
	MoneyScale     = 4
)

// MaxMoney is the smallest magnitude a money column cannot hold.
var MaxMoney = decimal.New(1, MoneyPrecision-MoneyScale)

// InMoneyRange reports whether d fits a money column.
func InMoneyRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(MaxMoney)
}

// ValidateMoney rejects values a money column would round or overflow.
func ValidateMoney(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MoneyScale)) {
		return apperr.ErrAmountPrecision.WithDetail("maxScale", MoneyScale)
	}
	if !InMoneyRange(d) {
		return apperr.ErrAmountOutOfRange.WithDetail("max", MaxMoney.String())
	}
	return nil
}

type TransactionType string

const (
	Deposit  TransactionType = "DEPOSIT"
	Withdraw TransactionType = "WITHDRAW"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdTimestamp"`
}

// Account is owned by the Ownership Store. Version increases by one on every
// accepted balance write and is the guard for conditional updates.
type Account struct {
	ID          string          `json:"id"`
	OwnerUserID string          `json:"ownerUserId"`
	OwnerName   string          `json:"ownerName"`
	Balance     decimal.Decimal `json:"balance"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdTimestamp"`
	UpdatedAt   time.Time       `json:"updatedTimestamp"`
}

// BalanceUpdate is the body of a conditional balance write.
type BalanceUpdate struct {
	Balance         decimal.Decimal `json:"balance"`
	ExpectedVersion int64           `json:"expectedVersion"`
	MutationID      string          `json:"mutationId"`
}

// Transaction is append-only; rows are never updated or deleted.
type Transaction struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	CreatedAt time.Time       `json:"createdTimestamp"`
}

type RefreshToken struct {
	ID         string    `json:"id"`
	Token      string    `json:"-"`
	TokenHash  string    `json:"-"`
	UserID     string    `json:"userId"`
	ExpiryDate time.Time `json:"expiryDate"`
	Revoked    bool      `json:"revoked"`
	ReplacedBy string    `json:"-"`
	CreatedAt  time.Time `json:"createdTimestamp"`
}

// IsExpired reports whether the token's expiry lies before now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiryDate)
}

// IsUsable is the only predicate that admits a refresh token.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

type IntentStatus string

const (
	IntentPending    IntentStatus = "PENDING"
	IntentCommitted  IntentStatus = "COMMITTED"
	IntentConflicted IntentStatus = "CONFLICTED"
	IntentFailed     IntentStatus = "FAILED"
	IntentStale      IntentStatus = "STALE"
)

// TransferIntent is recorded before the remote balance write so recovery
// can reconcile a balance that moved without a matching Transaction row.
type TransferIntent struct {
	ID              string
	AccountID       string
	Username        string
	Type            TransactionType
	Amount          decimal.Decimal
	ExpectedVersion int64
	Status          IntentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transaction returns the history row this intent produces once committed.
func (i *TransferIntent) Transaction(createdAt time.Time) *Transaction {
	return &Transaction{
		ID:        i.ID,
		AccountID: i.AccountID,
		Amount:    i.Amount,
		Type:      i.Type,
		CreatedAt: createdAt,
	}
}
