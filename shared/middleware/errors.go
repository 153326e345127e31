package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eaglebank/moneyflow/shared/apperr"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RespondWithAppError renders err with the status its kind maps to.
// Internal failures are logged with their cause and rendered generically.
func RespondWithAppError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	status := appErr.HTTPStatus()

	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindUpstream {
		loggerFrom(c).Error("request failed",
			zap.String("code", string(appErr.Code)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	message := appErr.Message
	if appErr.Kind == apperr.KindInternal {
		message = "Internal server error"
	}

	c.JSON(status, ErrorResponse{
		Code:    appErr.Code,
		Message: message,
		Details: appErr.Details,
	})
}
