package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/sma-program-sync/internal/dto"
	"github.com/noah-isme/sma-program-sync/internal/service"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/jobs"
	"github.com/noah-isme/sma-program-sync/pkg/response"
)

type statusProvider interface {
	Status(ctx context.Context) (*service.StatusReport, error)
}

type runScheduler interface {
	TryEnqueue(job jobs.Job) error
	Pending() int
	Stats() jobs.Stats
}

// SyncHandler exposes run status and on-demand runs.
type SyncHandler struct {
	status statusProvider
	runs   runScheduler
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(status statusProvider, runs runScheduler) *SyncHandler {
	return &SyncHandler{status: status, runs: runs}
}

// Status godoc
// @Summary Sync status
// @Description Returns the stored run cursor and outstanding work counts; meta.queue describes the run queue
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	report, err := h.status.Status(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, map[string]interface{}{"queue": h.runs.Stats()})
}

// Trigger godoc
// @Summary Queue a run
// @Description Queues an immediate sync run behind any run already in progress
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/runs [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	claims, ok := requireActor(c)
	if !ok {
		return
	}

	job := jobs.Job{ID: uuid.NewString(), Type: service.RunJobType, Payload: claims.UserID}
	if err := h.runs.TryEnqueue(job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			response.Error(c, appErrors.Clone(appErrors.ErrConflict, "a run is already queued"))
			return
		}
		response.Error(c, appErrors.Internal(err, "failed to queue run"))
		return
	}

	response.Accepted(c, dto.RunAccepted{JobID: job.ID, Pending: h.runs.Pending()})
}
