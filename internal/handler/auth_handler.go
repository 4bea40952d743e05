package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-program-sync/internal/dto"
	"github.com/noah-isme/sma-program-sync/internal/models"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/response"
)

type operatorAuthenticator interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
}

// AuthHandler issues admin API tokens for platform accounts.
type AuthHandler struct {
	auth operatorAuthenticator
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth operatorAuthenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login godoc
// @Summary Authenticate user
// @Description Exchanges platform credentials for an admin API access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Platform credentials"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var credentials models.LoginRequest
	if err := c.ShouldBindJSON(&credentials); err != nil {
		response.Error(c, appErrors.Invalid(err, "username and password are required"))
		return
	}

	session, err := h.auth.Login(c.Request.Context(), credentials)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Me godoc
// @Summary Get current user
// @Description Describes the operator behind the bearer token
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := requireActor(c)
	if !ok {
		return
	}

	operator := dto.Operator{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Role:      claims.Role,
		CanRevert: claims.Role == models.RoleAdmin,
	}
	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		operator.ExpiresAt = &expires
	}
	response.JSON(c, http.StatusOK, operator, nil)
}
