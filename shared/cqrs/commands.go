package cqrs

import (
	"github.com/shopspring/decimal"

	"github.com/eaglebank/moneyflow/shared/identity"
	"github.com/eaglebank/moneyflow/shared/models"
)

type RegisterCommand struct {
	Username string
	Password string
	Email    string
}

type LoginCommand struct {
	Username string
	Password string
}

type RefreshTokenCommand struct {
	RefreshToken string
}

type LogoutCommand struct {
	RefreshToken string
}

type LogoutAllCommand struct {
	Identity identity.Identity
}

type CreateAccountCommand struct {
	Identity  identity.Identity
	OwnerName string
}

// UpdateBalanceCommand is the conditional write accepted by the Ownership
// Store: it applies only while the account is still at ExpectedVersion.
type UpdateBalanceCommand struct {
	Identity  identity.Identity
	AccountID string
	Update    models.BalanceUpdate
}

// TransferCommand drives both deposit and withdraw.
type TransferCommand struct {
	Identity  identity.Identity
	AccountID string
	Amount    decimal.Decimal
}
