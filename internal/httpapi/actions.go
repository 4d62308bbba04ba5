package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/usecase"
)

const idempotencyKeyHeader = "Idempotency-Key"

// ActionSubmitter accepts outbound actions and reports job state.
type ActionSubmitter interface {
	Submit(ctx context.Context, req usecase.ActionRequest) (usecase.ActionResult, error)
	GetJob(ctx context.Context, jobID string) (*model.OutboxJob, error)
}

var _ ActionSubmitter = (*usecase.ActionService)(nil)

// ActionHandler serves the tenant-facing action API.
type ActionHandler struct {
	actions ActionSubmitter
}

// NewActionHandler returns an ActionHandler.
func NewActionHandler(actions ActionSubmitter) *ActionHandler {
	return &ActionHandler{actions: actions}
}

type sendSmsRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type placeCallRequest struct {
	To string `json:"to"`
}

type provisionRequest struct {
	AreaCode string `json:"area_code"`
}

type jobView struct {
	JobID         string     `json:"job_id"`
	JobType       string     `json:"job_type"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Register mounts the action routes on g, which must already require a bearer token.
func (h *ActionHandler) Register(g *gin.RouterGroup) {
	g.POST("/lines/:line_id/sms", h.SendSms)
	g.POST("/lines/:line_id/calls", h.PlaceCall)
	g.POST("/lines/:line_id/numbers/provision", h.ProvisionNumber)
	g.POST("/lines/:line_id/numbers/release", h.ReleaseNumber)
	g.GET("/jobs/:job_id", h.GetJob)
}

func (h *ActionHandler) SendSms(c *gin.Context) {
	var req sendSmsRequest
	if !bindJSON(c, &req, true) {
		return
	}
	h.submit(c, model.JobActionSendSms, &model.SendSmsPayload{To: req.To, Body: req.Body})
}

func (h *ActionHandler) PlaceCall(c *gin.Context) {
	var req placeCallRequest
	if !bindJSON(c, &req, true) {
		return
	}
	h.submit(c, model.JobActionPlaceCall, &model.PlaceCallPayload{To: req.To})
}

func (h *ActionHandler) ProvisionNumber(c *gin.Context) {
	var req provisionRequest
	if !bindJSON(c, &req, false) {
		return
	}
	h.submit(c, model.JobActionProvisionNumber, &model.ProvisionNumberPayload{AreaCode: req.AreaCode})
}

func (h *ActionHandler) ReleaseNumber(c *gin.Context) {
	h.submit(c, model.JobActionReleaseNumber, &model.ReleaseNumberPayload{})
}

// GetJob reports the state of a job owned by the caller's tenant.
func (h *ActionHandler) GetJob(c *gin.Context) {
	job, err := h.actions.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobView{
		JobID:         job.ID,
		JobType:       string(job.JobType),
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		LastError:     job.LastError,
		NextAttemptAt: job.NextAttemptAt,
		CorrelationID: job.CorrelationID,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
	})
}

func (h *ActionHandler) submit(c *gin.Context, jobType model.JobType, payload interface{}) {
	key := c.GetHeader(idempotencyKeyHeader)
	if key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": idempotencyKeyHeader + " header is required"})
		return
	}

	res, err := h.actions.Submit(c.Request.Context(), usecase.ActionRequest{
		JobType:        jobType,
		LineID:         c.Param("line_id"),
		IdempotencyKey: key,
		ActorID:        c.GetString(actorKey),
		Payload:        payload,
	})
	if err != nil {
		if apperrors.IsPolicyBlocked(err) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error(), "receipt_id": res.ReceiptID})
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// bindJSON decodes the body into dst. An empty body is accepted unless required.
func bindJSON(c *gin.Context, dst interface{}, required bool) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || (!required && errors.Is(err, io.EOF)) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
	return false
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrPolicyBlocked):
		return http.StatusForbidden
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
