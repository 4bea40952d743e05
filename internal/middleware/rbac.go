package middleware

import (
	"fmt"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-program-sync/internal/models"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/response"
)

// RequireRoles admits operators whose token carries one of roles. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "operator identity missing"))
			c.Abort()
			return
		}
		if !slices.Contains(roles, claims.Role) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not use this endpoint", claims.Role)))
			c.Abort()
			return
		}
		c.Next()
	}
}
