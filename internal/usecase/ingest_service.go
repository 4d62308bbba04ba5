package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/webhook"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// Ingest outcomes, also used as the webhook metric label.
const (
	IngestEnqueued        = "enqueued"
	IngestDuplicate       = "duplicate"
	IngestUnknownTenant   = "unknown_tenant"
	IngestUnauthenticated = "unauthenticated"
	IngestMalformed       = "malformed"
	IngestError           = "error"
)

// SignatureVerifier checks a raw webhook body for a provider.
type SignatureVerifier interface {
	Verify(provider string, body []byte, signature string) error
}

var _ SignatureVerifier = (*webhook.Registry)(nil)

// IngestRequest is one raw provider callback as received over HTTP.
type IngestRequest struct {
	Provider  string
	Kind      model.EventKind
	Body      []byte
	Signature string
}

// IngestResult reports what happened to a callback.
type IngestResult struct {
	Outcome  string
	JobID    string
	TenantID string
}

// IngestService turns verified callbacks into ingest jobs.
type IngestService struct {
	verifier SignatureVerifier
	resolver *TenantResolver
	events   storage.WebhookEventRepo
	outbox   storage.OutboxRepo
	receipts ReceiptRecorder
}

// NewIngestService creates an IngestService.
func NewIngestService(
	verifier SignatureVerifier,
	resolver *TenantResolver,
	events storage.WebhookEventRepo,
	outbox storage.OutboxRepo,
	receipts ReceiptRecorder,
) *IngestService {
	return &IngestService{
		verifier: verifier,
		resolver: resolver,
		events:   events,
		outbox:   outbox,
		receipts: receipts,
	}
}

// Ingest verifies, attributes, deduplicates and enqueues a callback.
//
// A returned error means the callback was not durably accepted and the
// provider should redeliver: either the signature failed (wraps
// ErrInvalidSignature) or infrastructure was unavailable. Unknown tenants,
// malformed payloads and duplicates are accepted without a job.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (result IngestResult, err error) {
	start := time.Now()
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	defer func() {
		observer.IncWebhookReceived(provider, string(req.Kind), result.Outcome)
		observer.ObserveWebhookDuration(provider, string(req.Kind), time.Since(start))
	}()
	log := logger.FromContext(ctx).With(zap.String("provider", provider), zap.String("kind", string(req.Kind)))
	action := "webhook." + string(req.Kind)

	if err := s.verifier.Verify(provider, req.Body, req.Signature); err != nil {
		log.Warn("Rejected webhook with invalid signature", zap.Error(err))
		s.receipts.WriteAsync(ctx, s.webhookReceipt(provider, action, model.OutcomeUnauthenticated, err.Error(), req.Body, nil))
		return IngestResult{Outcome: IngestUnauthenticated}, err
	}

	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return s.malformed(ctx, log, provider, action, req.Body, fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)), nil
	}
	event, err := webhook.Parse(provider, req.Kind, form)
	if err != nil {
		return s.malformed(ctx, log, provider, action, req.Body, err), nil
	}
	log = log.With(zap.String("event_id", event.EventID))

	attribution, err := s.resolver.Resolve(ctx, event.Destination)
	if err != nil {
		if apperrors.IsUnknownTenant(err) {
			log.Warn("Webhook destination has no owning tenant", zap.String("destination", event.Destination))
			s.receipts.WriteAsync(ctx, s.webhookReceipt(provider, action, model.OutcomeUnknownTenant, err.Error(), req.Body, event))
			return IngestResult{Outcome: IngestUnknownTenant}, nil
		}
		log.Error("Failed to resolve webhook tenant", zap.Error(err))
		return IngestResult{Outcome: IngestError}, err
	}

	ctx = tenant.WithTenantID(ctx, attribution.TenantID)
	log = log.With(zap.String("tenant_id", attribution.TenantID))
	result.TenantID = attribution.TenantID
	attachLine(event.Payload, attribution.Line.ID)

	isNew, err := s.events.RecordIfNew(ctx, &model.WebhookEvent{
		Provider:        provider,
		ProviderEventID: event.EventID,
		RelatedID:       event.RelatedID,
		EventType:       string(event.Kind),
		PayloadHash:     utils.SHA256Hex(req.Body),
	})
	if err != nil {
		log.Error("Failed to record webhook event", zap.Error(err))
		result.Outcome = IngestError
		return result, err
	}

	// Enqueue runs for duplicates too. Its idempotency key is the event id, so
	// this only creates a job when an earlier delivery recorded the event but
	// crashed before enqueueing. Whichever delivery does not create the job is
	// the duplicate, even if it won the event insert.
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		result.Outcome = IngestError
		return result, fmt.Errorf("failed to encode %s payload: %w", event.Kind, err)
	}
	jobType := event.Kind.JobType()
	jobID, created, err := s.outbox.Enqueue(ctx, &model.OutboxJob{
		TenantID:       attribution.TenantID,
		JobType:        jobType,
		IdempotencyKey: event.EventID,
		Payload:        datatypes.JSON(payload),
		CorrelationID:  tenant.CorrelationID(ctx),
	})
	if err != nil {
		log.Error("Failed to enqueue ingest job", zap.Error(err))
		result.Outcome = IngestError
		return result, err
	}
	observer.IncJobEnqueued(string(jobType), attribution.TenantID, created)
	result.JobID = jobID

	switch {
	case !created:
		log.Info("Duplicate webhook delivery", zap.String("job_id", jobID))
		receipt := s.webhookReceipt(provider, action, model.OutcomeDuplicate, "event already processed", req.Body, event)
		receipt.JobID = jobID
		s.receipts.WriteAsync(ctx, receipt)
		result.Outcome = IngestDuplicate
	case !isNew:
		log.Warn("Recovered ingest job for previously recorded event", zap.String("job_id", jobID))
		result.Outcome = IngestEnqueued
	default:
		log.Debug("Webhook enqueued", zap.String("job_id", jobID), zap.String("job_type", string(jobType)))
		result.Outcome = IngestEnqueued
	}
	return result, nil
}

func (s *IngestService) malformed(ctx context.Context, log *zap.Logger, provider, action string, body []byte, err error) IngestResult {
	log.Warn("Dropping malformed webhook", zap.Error(err))
	s.receipts.WriteAsync(ctx, s.webhookReceipt(provider, action, model.OutcomeFailed, err.Error(), body, nil))
	return IngestResult{Outcome: IngestMalformed}
}

// webhookReceipt records a provider-initiated event. Without a resolved tenant
// the writer files it under tenant.Unattributed.
func (s *IngestService) webhookReceipt(provider, action string, outcome model.ReceiptOutcome, reason string, body []byte, event *model.ProviderEvent) *model.ActionReceipt {
	snapshot := map[string]interface{}{
		"provider":     provider,
		"payload_hash": utils.SHA256Hex(body),
	}
	if event != nil {
		snapshot["event_id"] = event.EventID
		snapshot["destination"] = event.Destination
	}
	return newReceipt(model.ActorProvider, provider, action, outcome, reason, snapshot)
}

// attachLine stamps the resolved line onto an ingest payload.
func attachLine(payload interface{}, lineID string) {
	switch p := payload.(type) {
	case *model.CallStatusPayload:
		p.BusinessLineID = lineID
	case *model.SmsInboundPayload:
		p.BusinessLineID = lineID
	case *model.SmsStatusPayload:
		p.BusinessLineID = lineID
	case *model.VoicemailPayload:
		p.BusinessLineID = lineID
	}
}

