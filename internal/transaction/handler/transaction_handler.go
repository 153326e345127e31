package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/middleware"
	"github.com/eaglebank/moneyflow/shared/models"
)

// TransferCommander defines the write-side operations used by TransactionHandler.
type TransferCommander interface {
	Deposit(context.Context, cqrs.TransferCommand) (*models.Transaction, error)
	Withdraw(context.Context, cqrs.TransferCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.Transaction, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) ([]models.Transaction, error)
}

type TransactionHandler struct {
	commands TransferCommander
	queries  TransactionQuerier
}

// TransferRequest is the body of both deposit and withdraw. The sign of
// Amount is checked by the orchestrator so that it reports
// non_positive_amount rather than a generic validation failure.
type TransferRequest struct {
	AccountID string           `json:"accountId" validate:"required,max=64"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
}

func NewTransactionHandler(commands TransferCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

func (h *TransactionHandler) Deposit(c *gin.Context) {
	h.transfer(c, h.commands.Deposit)
}

func (h *TransactionHandler) Withdraw(c *gin.Context) {
	h.transfer(c, h.commands.Withdraw)
}

func (h *TransactionHandler) transfer(c *gin.Context, run func(context.Context, cqrs.TransferCommand) (*models.Transaction, error)) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	var req TransferRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	txn, err := run(c.Request.Context(), cqrs.TransferCommand{
		Identity:  id,
		AccountID: req.AccountID,
		Amount:    *req.Amount,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	txns, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{Identity: id})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, txns)
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	txn, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		Identity:      id,
		TransactionID: c.Param("transactionId"),
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}
