package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/eaglebank/moneyflow/shared/apperr"
	"github.com/eaglebank/moneyflow/shared/identity"
)

const identityKey = "identity"

// TokenValidator turns a bearer token into the username it was issued to.
// *tokens.Issuer satisfies it.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// AuthMiddleware rejects requests without a valid access token and stores
// the caller's identity (username plus the raw bearer) on the context.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			RespondWithAppError(c, apperr.New(apperr.TokenMalformed, "Authorization header required"))
			c.Abort()
			return
		}

		tokenString, ok := identity.ParseBearer(authHeader)
		if !ok {
			RespondWithAppError(c, apperr.New(apperr.TokenMalformed, "Invalid authorization header format"))
			c.Abort()
			return
		}

		username, err := validator.Validate(tokenString)
		if err != nil {
			RespondWithAppError(c, err)
			c.Abort()
			return
		}

		c.Set(identityKey, identity.New(username, tokenString))
		c.Next()
	}
}

// GetIdentity returns the identity stored by AuthMiddleware.
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok && !id.IsZero()
}
