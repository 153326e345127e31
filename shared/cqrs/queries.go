package cqrs

import "github.com/eaglebank/moneyflow/shared/identity"

// ---------- Account queries ----------

// GetAccountQuery fetches a single account, subject to ownership check.
type GetAccountQuery struct {
	Identity  identity.Identity
	AccountID string
}

// ListAccountsQuery fetches all accounts owned by the caller.
type ListAccountsQuery struct {
	Identity identity.Identity
}

// ---------- Transaction queries ----------

// GetTransactionQuery fetches a single transaction on one of the caller's accounts.
type GetTransactionQuery struct {
	Identity      identity.Identity
	TransactionID string
}

// ListTransactionsQuery fetches every transaction across the caller's accounts.
type ListTransactionsQuery struct {
	Identity identity.Identity
}
