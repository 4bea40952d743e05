package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-program-sync/internal/dto"
	"github.com/noah-isme/sma-program-sync/internal/service"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/response"
)

const sinceDateLayout = "2006-01-02"

type revertConfirmer interface {
	Request(ctx context.Context, req service.RevertRequest, actorID int64) (*service.RevertConfirmation, error)
	Execute(ctx context.Context, token string, actorID int64) (*service.RevertResult, error)
}

// RevertHandler exposes the two-step revert utility.
type RevertHandler struct {
	confirmations revertConfirmer
	location      *time.Location
}

// NewRevertHandler constructs the handler. Plain dates are read in loc.
func NewRevertHandler(confirmations revertConfirmer, loc *time.Location) *RevertHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RevertHandler{confirmations: confirmations, location: loc}
}

// RequestConfirmation godoc
// @Summary Request a revert
// @Description Validates a revert scope and issues a one-time confirmation token
// @Tags Revert
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RevertConfirmationRequest true "Revert scope"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/revert/confirmations [post]
func (h *RevertHandler) RequestConfirmation(c *gin.Context) {
	claims, ok := requireActor(c)
	if !ok {
		return
	}

	var req dto.RevertConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid revert payload"))
		return
	}
	since, err := h.parseSince(req.Since)
	if err != nil {
		response.Error(c, appErrors.Invalid(err, "since must be RFC 3339 or YYYY-MM-DD"))
		return
	}

	confirmation, err := h.confirmations.Request(c.Request.Context(), service.RevertRequest{
		CategoryID: req.CategoryID,
		Since:      since,
		Username:   req.Username,
	}, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RevertConfirmationResponse{
		Token:      confirmation.Token,
		CategoryID: confirmation.Request.CategoryID,
		Since:      confirmation.Request.Since,
		Username:   confirmation.Request.Username,
		ExpiresAt:  confirmation.ExpiresAt,
	})
}

// Execute godoc
// @Summary Execute a confirmed revert
// @Description Consumes a confirmation token and reverts the derived data it describes
// @Tags Revert
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RevertExecuteRequest true "Confirmation token"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/revert [post]
func (h *RevertHandler) Execute(c *gin.Context) {
	claims, ok := requireActor(c)
	if !ok {
		return
	}

	var req dto.RevertExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "confirmation token required"))
		return
	}

	result, err := h.confirmations.Execute(c.Request.Context(), req.Token, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

func (h *RevertHandler) parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(sinceDateLayout, raw, h.location)
}
