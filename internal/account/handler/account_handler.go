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

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	CreateAccount(context.Context, cqrs.CreateAccountCommand) (*models.Account, error)
	UpdateBalance(context.Context, cqrs.UpdateBalanceCommand) (*models.Account, error)
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.Account, error)
	ListAccounts(context.Context, cqrs.ListAccountsQuery) ([]models.Account, error)
}

// AccountHandler serves the Ownership Store API.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
}

type CreateAccountRequest struct {
	OwnerName string `json:"ownerName" validate:"required,max=255"`
}

type UpdateBalanceRequest struct {
	Balance         *decimal.Decimal `json:"balance" validate:"required"`
	ExpectedVersion *int64           `json:"expectedVersion" validate:"required"`
	MutationID      string           `json:"mutationId" validate:"required,max=64"`
}

type ListAccountsResponse struct {
	Accounts []models.Account `json:"accounts"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	var req CreateAccountRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	account, err := h.commands.CreateAccount(c.Request.Context(), cqrs.CreateAccountCommand{
		Identity:  id,
		OwnerName: req.OwnerName,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	accounts, err := h.queries.ListAccounts(c.Request.Context(), cqrs.ListAccountsQuery{Identity: id})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListAccountsResponse{Accounts: accounts})
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	account, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{
		Identity:  id,
		AccountID: c.Param("accountId"),
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// UpdateBalance is the conditional write used by the transfer orchestrator.
func (h *AccountHandler) UpdateBalance(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	var req UpdateBalanceRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	account, err := h.commands.UpdateBalance(c.Request.Context(), cqrs.UpdateBalanceCommand{
		Identity:  id,
		AccountID: c.Param("accountId"),
		Update: models.BalanceUpdate{
			Balance:         *req.Balance,
			ExpectedVersion: *req.ExpectedVersion,
			MutationID:      req.MutationID,
		},
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}
