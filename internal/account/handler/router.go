package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eaglebank/moneyflow/shared/middleware"
	"github.com/eaglebank/moneyflow/shared/models"
)

// Register mounts the account-service routes on router.
func Register(router *gin.Engine, auth *AuthHandler, accounts *AccountHandler, tokens middleware.TokenValidator) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", auth.Register)
		authGroup.POST("/login", auth.Login)
		authGroup.POST("/refresh", auth.RefreshToken)
		authGroup.POST("/logout", auth.Logout)
		authGroup.POST("/logout-all", middleware.AuthMiddleware(tokens), auth.LogoutAll)
	}

	v1 := router.Group("/"+models.AccountSchemaVersion+"/accounts", middleware.AuthMiddleware(tokens))
	{
		v1.POST("", accounts.CreateAccount)
		v1.GET("", accounts.ListAccounts)
		v1.GET("/:accountId", accounts.GetAccount)
		v1.PUT("/:accountId/balance", accounts.UpdateBalance)
	}
}
