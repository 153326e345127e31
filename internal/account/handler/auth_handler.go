package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eaglebank/moneyflow/internal/account/session"
	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/cqrs"
	"github.com/eaglebank/moneyflow/shared/middleware"
)

// AuthCommander defines the operations used by AuthHandler.
type AuthCommander interface {
	Register(context.Context, cqrs.RegisterCommand) (*session.Pair, error)
	Login(context.Context, cqrs.LoginCommand) (*session.Pair, error)
	Refresh(context.Context, cqrs.RefreshTokenCommand) (*session.Pair, error)
	Logout(context.Context, cqrs.LogoutCommand) error
	LogoutAll(context.Context, cqrs.LogoutAllCommand) (int64, error)
}

// AuthHandler handles registration, login and refresh-token endpoints.
type AuthHandler struct {
	commands AuthCommander
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"required,email"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type AuthResponse struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	Username              string    `json:"username"`
	Message               string    `json:"message"`
}

func NewAuthHandler(commands AuthCommander) *AuthHandler {
	return &AuthHandler{commands: commands}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	pair, err := h.commands.Register(c.Request.Context(), cqrs.RegisterCommand{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(pair, "User registered successfully"))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	pair, err := h.commands.Login(c.Request.Context(), cqrs.LoginCommand{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(pair, "Login successful"))
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	pair, err := h.commands.Refresh(c.Request.Context(), cqrs.RefreshTokenCommand{RefreshToken: req.RefreshToken})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(pair, "Token refreshed"))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req RefreshTokenRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	if err := h.commands.Logout(c.Request.Context(), cqrs.LogoutCommand{RefreshToken: req.RefreshToken}); err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// LogoutAll requires a valid access token; it revokes refresh tokens only.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.RespondWithAppError(c, apperr.ErrTokenMalformed)
		return
	}

	n, err := h.commands.LogoutAll(c.Request.Context(), cqrs.LogoutAllCommand{Identity: id})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out from all sessions", "revoked": n})
}

func newAuthResponse(pair *session.Pair, message string) AuthResponse {
	return AuthResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.ExpiresAt,
		Username:              pair.Username,
		Message:               message,
	}
}
