package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/validator"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

// ActionRequest is a caller-initiated outbound action. Payload must be a
// pointer to the action payload matching JobType.
type ActionRequest struct {
	JobType        model.JobType
	LineID         string
	IdempotencyKey string
	ActorID        string
	Payload        interface{}
}

// ActionResult identifies the job and the receipt written for a submission.
type ActionResult struct {
	JobID     string `json:"job_id,omitempty"`
	ReceiptID string `json:"receipt_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// ActionService validates and enqueues outbound actions.
type ActionService struct {
	policy   *Policy
	outbox   storage.OutboxRepo
	receipts ReceiptRecorder
}

// NewActionService creates an ActionService.
func NewActionService(policy *Policy, outbox storage.OutboxRepo, receipts ReceiptRecorder) *ActionService {
	return &ActionService{policy: policy, outbox: outbox, receipts: receipts}
}

// Submit runs the synchronous policy checks and enqueues the action. A blocked
// action returns a result carrying the blocked receipt id together with an
// error wrapping ErrPolicyBlocked. Resubmitting the same idempotency key
// returns the original job with Duplicate set.
func (s *ActionService) Submit(ctx context.Context, req ActionRequest) (ActionResult, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !req.JobType.IsAction() {
		return ActionResult{}, fmt.Errorf("%w: %s is not an action", apperrors.ErrBadRequest, req.JobType)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return ActionResult{}, fmt.Errorf("%w: idempotency key is required", apperrors.ErrValidation)
	}

	recipient, err := bindActionLine(req.JobType, req.Payload, req.LineID, req.ActorID)
	if err != nil {
		return ActionResult{}, err
	}
	if err := validator.Validate(req.Payload); err != nil {
		return ActionResult{}, err
	}

	log := logger.FromContext(ctx).With(
		zap.String("job_type", string(req.JobType)),
		zap.String("business_line_id", req.LineID),
		zap.String("idempotency_key", key),
	)
	action := string(req.JobType)

	if _, err := s.policy.CheckSubmit(ctx, req.JobType, req.LineID, recipient); err != nil {
		if !apperrors.IsPolicyBlocked(err) {
			return ActionResult{}, err
		}
		log.Info("Action blocked at submit", zap.Error(err))
		receiptID, werr := s.receipts.Write(ctx, newReceipt(model.ActorUser, req.ActorID, action, model.OutcomeBlocked, err.Error(), req.Payload))
		if werr != nil {
			return ActionResult{}, werr
		}
		return ActionResult{ReceiptID: receiptID}, err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return ActionResult{}, fmt.Errorf("failed to encode %s payload: %w", req.JobType, err)
	}
	jobID, created, err := s.outbox.Enqueue(ctx, &model.OutboxJob{
		TenantID:       tenantID,
		JobType:        req.JobType,
		IdempotencyKey: key,
		Payload:        datatypes.JSON(payload),
		CorrelationID:  tenant.CorrelationID(ctx),
	})
	if err != nil {
		return ActionResult{}, err
	}
	observer.IncJobEnqueued(string(req.JobType), tenantID, created)

	outcome, reason := model.OutcomeQueued, ""
	if !created {
		outcome, reason = model.OutcomeDuplicate, "idempotency key already used"
		log.Info("Duplicate action submission", zap.String("job_id", jobID))
	}
	receipt := newReceipt(model.ActorUser, req.ActorID, action, outcome, reason, req.Payload)
	receipt.JobID = jobID
	receiptID, err := s.receipts.Write(ctx, receipt)
	if err != nil {
		// The job is durable; a retry with the same key returns it.
		return ActionResult{JobID: jobID, Duplicate: !created}, err
	}
	return ActionResult{JobID: jobID, ReceiptID: receiptID, Duplicate: !created}, nil
}

// GetJob returns a job of the caller's tenant.
func (s *ActionService) GetJob(ctx context.Context, jobID string) (*model.OutboxJob, error) {
	return s.outbox.FindJobByID(ctx, jobID)
}

// bindActionLine sets the payload's line and requester and returns the
// recipient the policy is checked against.
func bindActionLine(jobType model.JobType, payload interface{}, lineID, actorID string) (string, error) {
	mismatch := fmt.Errorf("%w: payload does not match %s", apperrors.ErrBadRequest, jobType)
	switch jobType {
	case model.JobActionSendSms:
		p, ok := payload.(*model.SendSmsPayload)
		if !ok || p == nil {
			return "", mismatch
		}
		p.BusinessLineID = lineID
		p.RequestedBy = actorID
		return p.To, nil
	case model.JobActionPlaceCall:
		p, ok := payload.(*model.PlaceCallPayload)
		if !ok || p == nil {
			return "", mismatch
		}
		p.BusinessLineID = lineID
		p.RequestedBy = actorID
		return p.To, nil
	case model.JobActionProvisionNumber:
		p, ok := payload.(*model.ProvisionNumberPayload)
		if !ok || p == nil {
			return "", mismatch
		}
		p.BusinessLineID = lineID
		p.RequestedBy = actorID
		return "", nil
	case model.JobActionReleaseNumber:
		p, ok := payload.(*model.ReleaseNumberPayload)
		if !ok || p == nil {
			return "", mismatch
		}
		p.BusinessLineID = lineID
		p.RequestedBy = actorID
		return "", nil
	default:
		return "", mismatch
	}
}
