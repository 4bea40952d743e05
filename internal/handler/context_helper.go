package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-program-sync/internal/middleware"
	"github.com/noah-isme/sma-program-sync/internal/models"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/response"
)

// requireActor returns the authenticated operator, answering 401 when the route was
// reached without JWT claims.
func requireActor(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "operator identity missing"))
		return nil, false
	}
	return claims, true
}
