package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// Inbound keywords that change a sender's SMS subscription.
var (
	optOutKeywords = map[string]bool{"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true, "QUIT": true}
	optInKeywords  = map[string]bool{"START": true, "UNSTOP": true}
)

func (p *Processor) handleCallStatus(ctx context.Context, job *model.OutboxJob) error {
	var payload model.CallStatusPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorProvider, "", nil, err)
	}
	mapping, ok := model.MapCallStatus(payload.CallStatus)
	if !ok {
		err := apperrors.NewFatal(apperrors.ErrBadRequest, "unknown call status %q", payload.CallStatus)
		return p.settle(ctx, job, model.ActorProvider, payload.Provider, payload, err)
	}

	at := payload.Timestamp
	if at.IsZero() {
		at = utils.Now()
	}
	session := &model.CallSession{
		TenantID:       job.TenantID,
		BusinessLineID: payload.BusinessLineID,
		Provider:       payload.Provider,
		ProviderCallID: payload.CallSid,
		Direction:      payload.Direction,
		FromNumber:     payload.From,
		ToNumber:       payload.To,
		Status:         mapping.Status,
		StatusSequence: model.CallStatusSequence(payload.SequenceNumber, mapping),
	}
	if mapping.Status == "in_progress" {
		session.StartedAt = &at
	}
	if mapping.Terminal {
		session.EndedAt = &at
		session.DurationSeconds = payload.CallDuration
	}

	applied, err := p.calls.UpsertStatus(ctx, session)
	if err != nil {
		return err
	}

	// Chained even when this update lost the sequence race, so a crash between
	// upsert and enqueue is repaired by the retry.
	if mapping.Terminal {
		if err := p.enqueueFinalize(ctx, job, payload.Provider, payload.CallSid); err != nil {
			return err
		}
	}

	logger.FromContext(ctx).Debug("Call status ingested",
		zap.String("call_sid", payload.CallSid),
		zap.String("status", mapping.Status),
		zap.Int64("sequence", session.StatusSequence),
		zap.Bool("applied", applied))
	p.succeed(ctx, job, model.ActorProvider, payload.Provider, map[string]interface{}{
		"call_sid": payload.CallSid,
		"status":   mapping.Status,
		"applied":  applied,
	})
	return nil
}

func (p *Processor) enqueueFinalize(ctx context.Context, job *model.OutboxJob, providerName, callSid string) error {
	raw, err := json.Marshal(model.CallFinalizePayload{Provider: providerName, CallSid: callSid})
	if err != nil {
		return apperrors.NewFatal(err, "failed to encode finalize payload")
	}
	_, created, err := p.outbox.Enqueue(ctx, &model.OutboxJob{
		TenantID:       job.TenantID,
		JobType:        model.JobCallFinalize,
		IdempotencyKey: providerName + ":" + callSid,
		Payload:        datatypes.JSON(raw),
		CorrelationID:  job.CorrelationID,
	})
	if err != nil {
		return err
	}
	observer.IncJobEnqueued(string(model.JobCallFinalize), job.TenantID, created)
	return nil
}

func (p *Processor) handleSmsInbound(ctx context.Context, job *model.OutboxJob) error {
	var payload model.SmsInboundPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorProvider, "", nil, err)
	}
	receivedAt := payload.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = utils.Now()
	}

	thread := &model.SmsThread{
		TenantID:       job.TenantID,
		BusinessLineID: payload.BusinessLineID,
		LinePhone:      payload.To,
		Counterparty:   payload.From,
		LastMessageAt:  receivedAt,
	}
	if err := p.sms.UpsertThread(ctx, thread); err != nil {
		return err
	}

	received, _ := model.MapSmsStatus("received")
	if _, err := p.sms.UpsertMessage(ctx, &model.SmsMessage{
		TenantID:           job.TenantID,
		ThreadID:           thread.ID,
		Provider:           payload.Provider,
		ProviderMessageSid: payload.MessageSid,
		Direction:          model.DirectionInbound,
		FromNumber:         payload.From,
		ToNumber:           payload.To,
		Body:               payload.Body,
		Status:             received.Status,
		StatusSequence:     received.Rank,
	}); err != nil {
		return err
	}

	keyword := strings.ToUpper(strings.TrimSpace(payload.Body))
	switch {
	case optOutKeywords[keyword]:
		if err := p.compliance.AddOptOut(ctx, &model.OptOut{
			TenantID:    job.TenantID,
			PhoneNumber: payload.From,
			Channel:     model.ChannelSms,
			Reason:      "keyword:" + keyword,
		}); err != nil {
			return err
		}
		logger.FromContext(ctx).Info("Sender opted out", zap.String("keyword", keyword))
	case optInKeywords[keyword]:
		if err := p.compliance.RemoveOptOut(ctx, payload.From, model.ChannelSms); err != nil {
			return err
		}
		logger.FromContext(ctx).Info("Sender opted back in", zap.String("keyword", keyword))
	}

	p.succeed(ctx, job, model.ActorProvider, payload.Provider, map[string]interface{}{
		"message_sid": payload.MessageSid,
		"thread_id":   thread.ID,
	})
	return nil
}

func (p *Processor) handleSmsStatus(ctx context.Context, job *model.OutboxJob) error {
	var payload model.SmsStatusPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorProvider, "", nil, err)
	}
	mapping, ok := model.MapSmsStatus(payload.MessageStatus)
	if !ok {
		err := apperrors.NewFatal(apperrors.ErrBadRequest, "unknown message status %q", payload.MessageStatus)
		return p.settle(ctx, job, model.ActorProvider, payload.Provider, payload, err)
	}

	msg := &model.SmsMessage{
		TenantID:           job.TenantID,
		Provider:           payload.Provider,
		ProviderMessageSid: payload.MessageSid,
		Direction:          model.DirectionOutbound,
		FromNumber:         payload.From,
		ToNumber:           payload.To,
		Status:             mapping.Status,
		StatusSequence:     mapping.Rank,
		ErrorCode:          payload.ErrorCode,
	}
	if payload.From != "" && payload.To != "" {
		thread := &model.SmsThread{
			TenantID:       job.TenantID,
			BusinessLineID: payload.BusinessLineID,
			LinePhone:      payload.From,
			Counterparty:   payload.To,
		}
		if err := p.sms.UpsertThread(ctx, thread); err != nil {
			return err
		}
		msg.ThreadID = thread.ID
	}

	applied, err := p.sms.UpsertMessage(ctx, msg)
	if err != nil {
		return err
	}
	p.succeed(ctx, job, model.ActorProvider, payload.Provider, map[string]interface{}{
		"message_sid": payload.MessageSid,
		"status":      mapping.Status,
		"applied":     applied,
	})
	return nil
}

func (p *Processor) handleVoicemail(ctx context.Context, job *model.OutboxJob) error {
	var payload model.VoicemailPayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorProvider, "", nil, err)
	}

	vm := &model.Voicemail{
		TenantID:        job.TenantID,
		Provider:        payload.Provider,
		RecordingSid:    payload.RecordingSid,
		ProviderCallID:  payload.CallSid,
		RecordingURL:    payload.RecordingURL,
		DurationSeconds: payload.RecordingDuration,
	}
	// A recording can arrive before its call session; call.finalize links it later.
	session, err := p.calls.FindByProviderID(ctx, payload.Provider, payload.CallSid)
	switch {
	case err == nil:
		vm.CallSessionID = session.ID
	case apperrors.IsNotFoundError(err):
	default:
		return err
	}

	created, err := p.voicemails.Save(ctx, vm)
	if err != nil {
		return err
	}
	p.succeed(ctx, job, model.ActorProvider, payload.Provider, map[string]interface{}{
		"recording_sid":   payload.RecordingSid,
		"call_session_id": vm.CallSessionID,
		"created":         created,
	})
	return nil
}

func (p *Processor) handleCallFinalize(ctx context.Context, job *model.OutboxJob) error {
	var payload model.CallFinalizePayload
	if err := decodePayload(job, &payload); err != nil {
		return p.settle(ctx, job, model.ActorSystem, "", nil, err)
	}

	session, err := p.calls.FindByProviderID(ctx, payload.Provider, payload.CallSid)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return apperrors.NewRetryable(err, "call session %s not visible yet", payload.CallSid)
		}
		return err
	}

	endedAt := utils.Now()
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	duration := callDuration(session, endedAt)

	finalized, err := p.calls.Finalize(ctx, session.ID, duration, endedAt)
	if err != nil {
		return err
	}
	attached, err := p.voicemails.AttachToSession(ctx, payload.Provider, payload.CallSid, session.ID)
	if err != nil {
		return err
	}

	p.succeed(ctx, job, model.ActorSystem, "", map[string]interface{}{
		"call_sid":            payload.CallSid,
		"duration_seconds":    duration,
		"finalized":           finalized,
		"voicemails_attached": attached,
	})
	return nil
}

// callDuration prefers the provider-reported duration and falls back to the
// observed start and end times.
func callDuration(session *model.CallSession, endedAt time.Time) int {
	if session.DurationSeconds > 0 {
		return session.DurationSeconds
	}
	if session.StartedAt == nil || endedAt.Before(*session.StartedAt) {
		return 0
	}
	return int(endedAt.Sub(*session.StartedAt) / time.Second)
}
