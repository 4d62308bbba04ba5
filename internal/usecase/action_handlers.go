package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/provider"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

const resourceTypePhoneNumber = "phone_number"

// Action handlers re-run the policy before touching the provider and pass the
// job id as the provider idempotency key, so a retry after a crash between the
// provider call and the local write does not repeat the side effect.

func (p *Processor) handleSendSms(ctx context.Context, job *model.OutboxJob) error {
	var payload model.SendSmsPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorUser, "", nil, err)
	}
	line, err := p.policy.Check(ctx, job.JobType, payload.BusinessLineID, payload.To)
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	res, err := p.provider.SendSMS(ctx, provider.SendSMSRequest{
		IdempotencyKey: job.ID,
		From:           line.PhoneNumber,
		To:             payload.To,
		Body:           payload.Body,
		StatusCallback: p.callbacks.SmsStatus,
	})
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	thread := &model.SmsThread{
		TenantID:       job.TenantID,
		BusinessLineID: line.ID,
		LinePhone:      line.PhoneNumber,
		Counterparty:   payload.To,
	}
	if err := p.sms.UpsertThread(ctx, thread); err != nil {
		return err
	}
	mapping, ok := model.MapSmsStatus(res.Status)
	if !ok {
		mapping, _ = model.MapSmsStatus("queued")
	}
	if _, err := p.sms.UpsertMessage(ctx, &model.SmsMessage{
		TenantID:           job.TenantID,
		ThreadID:           thread.ID,
		Provider:           p.provider.Name(),
		ProviderMessageSid: res.MessageSid,
		Direction:          model.DirectionOutbound,
		FromNumber:         line.PhoneNumber,
		ToNumber:           payload.To,
		Body:               payload.Body,
		Status:             mapping.Status,
		StatusSequence:     mapping.Rank,
	}); err != nil {
		return err
	}

	logger.FromContext(ctx).Info("SMS sent", zap.String("message_sid", res.MessageSid))
	p.succeed(ctx, job, model.ActorUser, payload.RequestedBy, map[string]interface{}{
		"message_sid": res.MessageSid,
		"to":          payload.To,
	})
	return nil
}

func (p *Processor) handlePlaceCall(ctx context.Context, job *model.OutboxJob) error {
	var payload model.PlaceCallPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorUser, "", nil, err)
	}
	line, err := p.policy.Check(ctx, job.JobType, payload.BusinessLineID, payload.To)
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	res, err := p.provider.PlaceCall(ctx, provider.PlaceCallRequest{
		IdempotencyKey: job.ID,
		From:           line.PhoneNumber,
		To:             payload.To,
		StatusCallback: p.callbacks.VoiceStatus,
	})
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	// Sequence zero keeps every provider status callback newer than this row.
	status := "queued"
	if mapping, ok := model.MapCallStatus(res.Status); ok {
		status = mapping.Status
	}
	if _, err := p.calls.UpsertStatus(ctx, &model.CallSession{
		TenantID:       job.TenantID,
		BusinessLineID: line.ID,
		Provider:       p.provider.Name(),
		ProviderCallID: res.CallSid,
		Direction:      model.DirectionOutbound,
		FromNumber:     line.PhoneNumber,
		ToNumber:       payload.To,
		Status:         status,
		StatusSequence: 0,
	}); err != nil {
		return err
	}

	logger.FromContext(ctx).Info("Call placed", zap.String("call_sid", res.CallSid))
	p.succeed(ctx, job, model.ActorUser, payload.RequestedBy, map[string]interface{}{
		"call_sid": res.CallSid,
		"to":       payload.To,
	})
	return nil
}

func (p *Processor) handleProvisionNumber(ctx context.Context, job *model.OutboxJob) error {
	var payload model.ProvisionNumberPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorUser, "", nil, err)
	}
	line, err := p.policy.Check(ctx, job.JobType, payload.BusinessLineID, "")
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	existing, err := p.resources.FindActiveByLine(ctx, line.ID)
	switch {
	case err == nil && existing.JobID == job.ID:
		// An earlier attempt bought the number; finish binding it.
		if err := p.lines.BindNumber(ctx, line.ID, existing.PhoneNumber); err != nil {
			return err
		}
		p.resolver.Forget(ctx, existing.PhoneNumber)
		p.succeed(ctx, job, model.ActorUser, payload.RequestedBy, map[string]interface{}{
			"resource_id":  existing.ProviderResourceID,
			"phone_number": existing.PhoneNumber,
			"resumed":      true,
		})
		return nil
	case err == nil:
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload,
			blocked("business line %s already holds resource %s", line.ID, existing.ProviderResourceID))
	case !apperrors.IsNotFoundError(err):
		return err
	}
	if line.PhoneNumber != "" {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload,
			blocked("business line %s already has a number", line.ID))
	}

	res, err := p.provider.ProvisionNumber(ctx, provider.ProvisionNumberRequest{
		IdempotencyKey: job.ID,
		AreaCode:       payload.AreaCode,
		SmsCallback:    p.callbacks.SmsInbound,
		VoiceCallback:  p.callbacks.VoiceStatus,
	})
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	if err := p.resources.Upsert(ctx, &model.ProviderResource{
		TenantID:           job.TenantID,
		BusinessLineID:     line.ID,
		Provider:           p.provider.Name(),
		ResourceType:       resourceTypePhoneNumber,
		ProviderResourceID: res.ResourceID,
		PhoneNumber:        res.PhoneNumber,
		Status:             model.ResourceStatusActive,
		JobID:              job.ID,
	}); err != nil {
		return err
	}
	if err := p.lines.BindNumber(ctx, line.ID, res.PhoneNumber); err != nil {
		return err
	}
	p.resolver.Forget(ctx, res.PhoneNumber)

	logger.FromContext(ctx).Info("Number provisioned", zap.String("resource_id", res.ResourceID))
	p.succeed(ctx, job, model.ActorUser, payload.RequestedBy, map[string]interface{}{
		"resource_id":  res.ResourceID,
		"phone_number": res.PhoneNumber,
	})
	return nil
}

func (p *Processor) handleReleaseNumber(ctx context.Context, job *model.OutboxJob) error {
	var payload model.ReleaseNumberPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorUser, "", nil, err)
	}
	line, err := p.policy.Check(ctx, job.JobType, payload.BusinessLineID, "")
	if err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	res, err := p.resources.FindActiveByLine(ctx, line.ID)
	if err != nil {
		if !apperrors.IsNotFoundError(err) {
			return err
		}
		// Nothing held at the provider; make sure the line agrees.
		if line.PhoneNumber != "" {
			if err := p.lines.ReleaseNumber(ctx, line.ID); err != nil {
				return err
			}
			p.resolver.Forget(ctx, line.PhoneNumber)
		}
		p.succeed(ctx, job, model.ActorUser, payload.RequestedBy, map[string]interface{}{
			"business_line_id": line.ID,
			"already_released": true,
		})
		return nil
	}

	if err := p.provider.ReleaseNumber(ctx, provider.ReleaseNumberRequest{
		IdempotencyKey: job.ID,
		ResourceID:     res.ProviderResourceID,
	}); err != nil {
		return p.settle(ctx, job, model.ActorUser, payload.RequestedBy, payload, err)
	}

	if err := p.resources.MarkReleased(ctx, res.ID); err != nil {
		return err
	}
	if err := p.lines.ReleaseNumber(ctx, line.ID); err != nil {
		return err
	}
	p.resolver.Forget(ctx, res.PhoneNumber)
	if line.PhoneNumber != res.PhoneNumber {
		p.resolver.Forget(ctx, line.PhoneNumber)
	}

	logger.FromContext(ctx).Info("Number released", zap.String("resource_id", res.ProviderResourceID))
	p.succeed(ctx, job, model.ActorUser, payload.RequestedBy, map[string]interface{}{
		"resource_id":  res.ProviderResourceID,
		"phone_number": res.PhoneNumber,
	})
	return nil
}
