package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eaglebank/moneyflow/shared/middleware"
)

// Register mounts the transaction-service routes on router.
func Register(router *gin.Engine, transactions *TransactionHandler, tokens middleware.TokenValidator) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	txGroup := router.Group("/transactions", middleware.AuthMiddleware(tokens))
	{
		txGroup.POST("/deposit", transactions.Deposit)
		txGroup.POST("/withdraw", transactions.Withdraw)
		txGroup.GET("", transactions.ListTransactions)
		txGroup.GET("/:transactionId", transactions.GetTransaction)
	}
}
