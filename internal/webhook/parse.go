package webhook

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// Parse normalizes a form-encoded provider callback into a ProviderEvent.
// The payload's BusinessLineID is left empty until the tenant is resolved.
func Parse(provider string, kind model.EventKind, form url.Values) (*model.ProviderEvent, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch kind {
	case model.EventVoiceStatus:
		return parseVoiceStatus(provider, form)
	case model.EventSmsInbound:
		return parseSmsInbound(provider, form)
	case model.EventSmsStatus:
		return parseSmsStatus(provider, form)
	case model.EventVoiceRecording:
		return parseVoiceRecording(provider, form)
	default:
		return nil, fmt.Errorf("%w: unsupported callback kind %q", apperrors.ErrBadRequest, kind)
	}
}

func parseVoiceStatus(provider string, form url.Values) (*model.ProviderEvent, error) {
	if err := requireFields(form, "CallSid", "CallStatus"); err != nil {
		return nil, err
	}

	payload := &model.CallStatusPayload{
		Provider:     provider,
		CallSid:      value(form, "CallSid"),
		From:         value(form, "From"),
		To:           value(form, "To"),
		Direction:    parseDirection(value(form, "Direction")),
		CallStatus:   value(form, "CallStatus"),
		CallDuration: atoi(value(form, "CallDuration")),
		Timestamp:    utils.ParseProviderTime(value(form, "Timestamp")),
	}

	// Without a sequence number each distinct status still gets its own key.
	sequence := value(form, "SequenceNumber")
	if sequence != "" {
		n, err := strconv.ParseInt(sequence, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid SequenceNumber %q", apperrors.ErrBadRequest, sequence)
		}
		payload.SequenceNumber = &n
	} else {
		sequence = strings.ToLower(payload.CallStatus)
	}

	destination := payload.To
	if payload.Direction == model.DirectionOutbound {
		destination = payload.From
	}

	return &model.ProviderEvent{
		Provider:    provider,
		Kind:        model.EventVoiceStatus,
		EventID:     model.DedupKey(provider, model.EventVoiceStatus, payload.CallSid, sequence),
		RelatedID:   payload.CallSid,
		Destination: destination,
		Payload:     payload,
	}, nil
}

func parseSmsInbound(provider string, form url.Values) (*model.ProviderEvent, error) {
	sid := firstValue(form, "MessageSid", "SmsSid")
	if sid == "" {
		return nil, fmt.Errorf("%w: missing field MessageSid", apperrors.ErrBadRequest)
	}
	if err := requireFields(form, "From", "To"); err != nil {
		return nil, err
	}

	payload := &model.SmsInboundPayload{
		Provider:   provider,
		MessageSid: sid,
		From:       value(form, "From"),
		To:         value(form, "To"),
		Body:       form.Get("Body"),
		ReceivedAt: utils.Now(),
	}

	return &model.ProviderEvent{
		Provider:    provider,
		Kind:        model.EventSmsInbound,
		EventID:     model.DedupKey(provider, model.EventSmsInbound, sid, ""),
		RelatedID:   sid,
		Destination: payload.To,
		Payload:     payload,
	}, nil
}

func parseSmsStatus(provider string, form url.Values) (*model.ProviderEvent, error) {
	sid := firstValue(form, "MessageSid", "SmsSid")
	if sid == "" {
		return nil, fmt.Errorf("%w: missing field MessageSid", apperrors.ErrBadRequest)
	}
	status := firstValue(form, "MessageStatus", "SmsStatus")
	if status == "" {
		return nil, fmt.Errorf("%w: missing field MessageStatus", apperrors.ErrBadRequest)
	}

	payload := &model.SmsStatusPayload{
		Provider:      provider,
		MessageSid:    sid,
		From:          value(form, "From"),
		To:            value(form, "To"),
		MessageStatus: status,
		ErrorCode:     value(form, "ErrorCode"),
	}

	// Delivery receipts describe messages the line sent, so the line is the sender.
	return &model.ProviderEvent{
		Provider:    provider,
		Kind:        model.EventSmsStatus,
		EventID:     model.DedupKey(provider, model.EventSmsStatus, sid, strings.ToLower(status)),
		RelatedID:   sid,
		Destination: payload.From,
		Payload:     payload,
	}, nil
}

func parseVoiceRecording(provider string, form url.Values) (*model.ProviderEvent, error) {
	if err := requireFields(form, "CallSid", "RecordingSid", "RecordingUrl"); err != nil {
		return nil, err
	}

	payload := &model.VoicemailPayload{
		Provider:          provider,
		CallSid:           value(form, "CallSid"),
		RecordingSid:      value(form, "RecordingSid"),
		RecordingURL:      value(form, "RecordingUrl"),
		RecordingDuration: atoi(value(form, "RecordingDuration")),
	}

	// Recordings of calls the line placed belong to the caller side.
	destination := firstValue(form, "To", "Called")
	if parseDirection(value(form, "Direction")) == model.DirectionOutbound {
		destination = firstValue(form, "From", "Caller")
	}

	return &model.ProviderEvent{
		Provider:    provider,
		Kind:        model.EventVoiceRecording,
		EventID:     model.DedupKey(provider, model.EventVoiceRecording, payload.RecordingSid, ""),
		RelatedID:   payload.CallSid,
		Destination: destination,
		Payload:     payload,
	}, nil
}

func requireFields(form url.Values, fields ...string) error {
	for _, f := range fields {
		if value(form, f) == "" {
			return fmt.Errorf("%w: missing field %s", apperrors.ErrBadRequest, f)
		}
	}
	return nil
}

func value(form url.Values, key string) string {
	return strings.TrimSpace(form.Get(key))
}

func firstValue(form url.Values, keys ...string) string {
	for _, k := range keys {
		if v := value(form, k); v != "" {
			return v
		}
	}
	return ""
}

// parseDirection folds outbound-api and outbound-dial into outbound.
func parseDirection(raw string) model.Direction {
	if strings.HasPrefix(strings.ToLower(raw), "outbound") {
		return model.DirectionOutbound
	}
	return model.DirectionInbound
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
