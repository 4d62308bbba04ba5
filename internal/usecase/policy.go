package usecase

import (
	"context"
	"fmt"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
)

// Policy evaluates whether an action may run against a line. It is run
// synchronously at submit time and again inside the worker before any provider
// call, since state may change in between.
type Policy struct {
	lines      storage.BusinessLineRepo
	compliance storage.ComplianceRepo
}

// NewPolicy creates a Policy.
func NewPolicy(lines storage.BusinessLineRepo, compliance storage.ComplianceRepo) *Policy {
	return &Policy{lines: lines, compliance: compliance}
}

func blocked(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrPolicyBlocked, fmt.Sprintf(format, args...))
}

// Check loads the line and applies the rules for jobType. recipient is only
// used by messaging and calling actions. Violations wrap ErrPolicyBlocked;
// storage failures are returned as is.
func (p *Policy) Check(ctx context.Context, jobType model.JobType, lineID, recipient string) (*model.BusinessLine, error) {
	line, err := p.lines.FindByID(ctx, lineID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, blocked("business line %s not found", lineID)
		}
		return nil, err
	}
	if line.Status == model.LineStatusSuspended {
		return line, blocked("business line %s is suspended", line.ID)
	}

	switch jobType {
	case model.JobActionSendSms:
		return line, p.checkOutbound(ctx, line, model.ChannelSms, recipient)
	case model.JobActionPlaceCall:
		return line, p.checkOutbound(ctx, line, model.ChannelVoice, recipient)
	case model.JobActionProvisionNumber, model.JobActionReleaseNumber:
		return line, nil
	default:
		return line, apperrors.NewFatal(apperrors.ErrBadRequest, "no policy for job type %s", jobType)
	}
}

func (p *Policy) checkOutbound(ctx context.Context, line *model.BusinessLine, channel model.Channel, recipient string) error {
	if line.Status != model.LineStatusActive {
		return blocked("business line %s is %s", line.ID, line.Status)
	}
	if line.PhoneNumber == "" {
		return blocked("business line %s has no number", line.ID)
	}
	if line.LineMode != model.LineModeFullDuplex {
		return blocked("business line %s is %s", line.ID, line.LineMode)
	}

	gate, err := p.compliance.FindGate(ctx)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return blocked("no compliance gate configured")
		}
		return err
	}
	switch channel {
	case model.ChannelSms:
		if !gate.SmsEnabled {
			return blocked("sms disabled by compliance gate")
		}
	case model.ChannelVoice:
		if !gate.VoiceEnabled {
			return blocked("voice disabled by compliance gate")
		}
	}

	optedOut, err := p.compliance.IsOptedOut(ctx, recipient, channel)
	if err != nil {
		return err
	}
	if optedOut {
		return blocked("recipient opted out of %s", channel)
	}
	return nil
}

// CheckSubmit adds the request-time rules that only make sense before a job
// exists. Number provisioning is re-validated against provider resources at
// execution instead.
func (p *Policy) CheckSubmit(ctx context.Context, jobType model.JobType, lineID, recipient string) (*model.BusinessLine, error) {
	line, err := p.Check(ctx, jobType, lineID, recipient)
	if err != nil {
		return line, err
	}
	switch jobType {
	case model.JobActionProvisionNumber:
		if line.PhoneNumber != "" {
			return line, blocked("business line %s already has a number", line.ID)
		}
	case model.JobActionReleaseNumber:
		if line.PhoneNumber == "" {
			return line, blocked("business line %s has no number to release", line.ID)
		}
	}
	return line, nil
}
