package usecase

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/provider"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/validator"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

// JobProcessor executes one claimed outbox job.
type JobProcessor interface {
	Process(ctx context.Context, job *model.OutboxJob) error
}

// CallbackURLs are handed to the provider so status updates come back to our
// webhook routes.
type CallbackURLs struct {
	SmsStatus   string
	SmsInbound  string
	VoiceStatus string
}

// NewCallbackURLs derives callback URLs from the provider webhook base, for
// example https://comms.example.com/webhooks/twilio.
func NewCallbackURLs(base string) CallbackURLs {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return CallbackURLs{}
	}
	return CallbackURLs{
		SmsStatus:   base + "/sms/status",
		SmsInbound:  base + "/sms/inbound",
		VoiceStatus: base + "/voice/status",
	}
}

// Processor dispatches jobs to their handlers. It is the only place domain
// state is mutated.
type Processor struct {
	lines      storage.BusinessLineRepo
	resources  storage.ProviderResourceRepo
	outbox     storage.OutboxRepo
	calls      storage.CallRepo
	sms        storage.SmsRepo
	voicemails storage.VoicemailRepo
	compliance storage.ComplianceRepo
	policy     *Policy
	provider   provider.Client
	receipts   ReceiptRecorder
	resolver   *TenantResolver
	callbacks  CallbackURLs
}

var _ JobProcessor = (*Processor)(nil)

// NewProcessor creates a processor over repos.
func NewProcessor(
	repos storage.Repositories,
	policy *Policy,
	client provider.Client,
	receipts ReceiptRecorder,
	resolver *TenantResolver,
	callbacks CallbackURLs,
) *Processor {
	return &Processor{
		lines:      repos.Line,
		resources:  repos.Resources,
		outbox:     repos.Outbox,
		calls:      repos.Calls,
		sms:        repos.Sms,
		voicemails: repos.Voicemails,
		compliance: repos.Compliance,
		policy:     policy,
		provider:   client,
		receipts:   receipts,
		resolver:   resolver,
		callbacks:  callbacks,
	}
}

// Process scopes ctx to the job's tenant and runs its handler. Errors follow
// apperrors.IsTerminal: terminal errors fail the job, anything else is retried.
func (p *Processor) Process(ctx context.Context, job *model.OutboxJob) error {
	ctx = tenant.WithTenantID(ctx, job.TenantID)
	if job.CorrelationID != "" {
		ctx = tenant.WithCorrelationID(ctx, job.CorrelationID)
	}
	// FromContext adds the tenant and correlation fields on every call, so the
	// stored logger carries only the job fields.
	ctx = logger.WithLogger(ctx, logger.FromContextOr(ctx, nil).With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.JobType)),
		zap.Int("attempts", job.Attempts),
	))

	switch job.JobType {
	case model.JobIngestCallStatus:
		return p.handleCallStatus(ctx, job)
	case model.JobIngestSmsInbound:
		return p.handleSmsInbound(ctx, job)
	case model.JobIngestSmsStatus:
		return p.handleSmsStatus(ctx, job)
	case model.JobIngestVoicemail:
		return p.handleVoicemail(ctx, job)
	case model.JobCallFinalize:
		return p.handleCallFinalize(ctx, job)
	case model.JobActionSendSms:
		return p.handleSendSms(ctx, job)
	case model.JobActionPlaceCall:
		return p.handlePlaceCall(ctx, job)
	case model.JobActionProvisionNumber:
		return p.handleProvisionNumber(ctx, job)
	case model.JobActionReleaseNumber:
		return p.handleReleaseNumber(ctx, job)
	default:
		return apperrors.NewFatal(apperrors.ErrBadRequest, "unknown job type %q", job.JobType)
	}
}

// decodePayload unmarshals and validates a job payload. A payload that cannot
// be read will never succeed, so failures are fatal.
func decodePayload(job *model.OutboxJob, dst interface{}) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "failed to unmarshal %s payload", job.JobType)
	}
	if err := validator.Validate(dst); err != nil {
		return apperrors.NewFatal(err, "invalid %s payload", job.JobType)
	}
	return nil
}

// succeed records a success receipt without waiting for it.
func (p *Processor) succeed(ctx context.Context, job *model.OutboxJob, actor model.ActorType, actorID string, snapshot interface{}) {
	receipt := newReceipt(actor, actorID, string(job.JobType), model.OutcomeSuccess, "", snapshot)
	receipt.JobID = job.ID
	p.receipts.WriteAsync(ctx, receipt)
}

// settle records the terminal outcome of a failed job before handing err back
// to the worker. Transient errors pass through untouched. If the receipt cannot
// be written the job is retried so the audit trail is never skipped.
func (p *Processor) settle(ctx context.Context, job *model.OutboxJob, actor model.ActorType, actorID string, snapshot interface{}, err error) error {
	if !apperrors.IsTerminal(err) {
		return err
	}
	outcome := model.OutcomeFailed
	if apperrors.IsPolicyBlocked(err) {
		outcome = model.OutcomeBlocked
	}
	receipt := newReceipt(actor, actorID, string(job.JobType), outcome, err.Error(), snapshot)
	receipt.JobID = job.ID
	if _, werr := p.receipts.Write(ctx, receipt); werr != nil {
		logger.FromContext(ctx).Error("Failed to record terminal job outcome", zap.Error(werr), zap.NamedError("job_error", err))
		return apperrors.NewRetryable(werr, "failed to record %s receipt", outcome)
	}
	logger.FromContext(ctx).Warn("Job ended terminally", zap.String("outcome", string(outcome)), zap.Error(err))
	return err
}
