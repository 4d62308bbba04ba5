package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/usecase"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

// MaxWebhookBody caps how much of a callback body is read.
const MaxWebhookBody = 1 << 20

// emptyTwiML acknowledges a callback without further instructions.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response/>`

// Ingester accepts raw provider callbacks.
type Ingester interface {
	Ingest(ctx context.Context, req usecase.IngestRequest) (usecase.IngestResult, error)
}

var _ Ingester = (*usecase.IngestService)(nil)

// WebhookHandler serves provider callbacks.
type WebhookHandler struct {
	ingest          Ingester
	signatureHeader string
}

// NewWebhookHandler returns a handler reading signatures from signatureHeader.
func NewWebhookHandler(ingest Ingester, signatureHeader string) *WebhookHandler {
	return &WebhookHandler{ingest: ingest, signatureHeader: signatureHeader}
}

// Register mounts the callback routes on g.
func (h *WebhookHandler) Register(g *gin.RouterGroup) {
	g.POST("/:provider/voice/status", h.handle(model.EventVoiceStatus))
	g.POST("/:provider/sms/inbound", h.handle(model.EventSmsInbound))
	g.POST("/:provider/sms/status", h.handle(model.EventSmsStatus))
	g.POST("/:provider/voice/recording", h.handle(model.EventVoiceRecording))
}

// handle answers 200 for every callback except a failed signature, which gets
// 403. Ingest errors past the signature check are logged and acknowledged;
// the store has already retried them.
func (h *WebhookHandler) handle(kind model.EventKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx).With(zap.String("provider", c.Param("provider")), zap.String("kind", string(kind)))

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatus(http.StatusRequestEntityTooLarge)
				return
			}
			log.Warn("Failed to read webhook body", zap.Error(err))
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		result, err := h.ingest.Ingest(ctx, usecase.IngestRequest{
			Provider:  c.Param("provider"),
			Kind:      kind,
			Body:      body,
			Signature: c.GetHeader(h.signatureHeader),
		})
		switch {
		case err == nil:
			log.Debug("Webhook accepted", zap.String("outcome", result.Outcome), zap.String("job_id", result.JobID))
			c.Data(http.StatusOK, "application/xml", []byte(emptyTwiML))
		case apperrors.IsInvalidSignature(err):
			c.AbortWithStatus(http.StatusForbidden)
		default:
			_ = c.Error(err)
			log.Error("Webhook ingest failed, acknowledging anyway",
				zap.String("outcome", result.Outcome), zap.Error(err))
			c.Data(http.StatusOK, "application/xml", []byte(emptyTwiML))
		}
	}
}
