package model

import (
	"time"
)

// --- Ingest job payloads --- //

// CallStatusPayload is a normalized voice status callback.
type CallStatusPayload struct {
	Provider       string    `json:"provider" validate:"required"`
	BusinessLineID string    `json:"business_line_id" validate:"required"`
	CallSid        string    `json:"call_sid" validate:"required"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Direction      Direction `json:"direction,omitempty" validate:"omitempty,oneof=inbound outbound"`
	CallStatus     string    `json:"call_status" validate:"required"`
	SequenceNumber *int64    `json:"sequence_number,omitempty" validate:"omitempty,gte=0"`
	CallDuration   int       `json:"call_duration,omitempty" validate:"gte=0"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// SmsInboundPayload is a normalized inbound message callback.
type SmsInboundPayload struct {
	Provider       string    `json:"provider" validate:"required"`
	BusinessLineID string    `json:"business_line_id" validate:"required"`
	MessageSid     string    `json:"message_sid" validate:"required"`
	From           string    `json:"from" validate:"required"`
	To             string    `json:"to" validate:"required"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
}

// SmsStatusPayload is a normalized delivery receipt callback.
type SmsStatusPayload struct {
	Provider       string `json:"provider" validate:"required"`
	BusinessLineID string `json:"business_line_id" validate:"required"`
	MessageSid     string `json:"message_sid" validate:"required"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
	MessageStatus  string `json:"message_status" validate:"required"`
	ErrorCode      string `json:"error_code,omitempty"`
}

// VoicemailPayload is a normalized recording callback.
type VoicemailPayload struct {
	Provider          string `json:"provider" validate:"required"`
	BusinessLineID    string `json:"business_line_id" validate:"required"`
	CallSid           string `json:"call_sid" validate:"required"`
	RecordingSid      string `json:"recording_sid" validate:"required"`
	RecordingURL      string `json:"recording_url" validate:"required,url"`
	RecordingDuration int    `json:"recording_duration,omitempty" validate:"gte=0"`
}

// CallFinalizePayload is chained from a terminal call status.
type CallFinalizePayload struct {
	Provider string `json:"provider" validate:"required"`
	CallSid  string `json:"call_sid" validate:"required"`
}

// --- Action job payloads --- //

// SendSmsPayload requests an outbound message from a line.
type SendSmsPayload struct {
	BusinessLineID string `json:"business_line_id" validate:"required"`
	To             string `json:"to" validate:"required,e164"`
	Body           string `json:"body" validate:"required,max=1600"`
	RequestedBy    string `json:"requested_by,omitempty"`
}

// PlaceCallPayload requests an outbound call from a line.
type PlaceCallPayload struct {
	BusinessLineID string `json:"business_line_id" validate:"required"`
	To             string `json:"to" validate:"required,e164"`
	RequestedBy    string `json:"requested_by,omitempty"`
}

// ProvisionNumberPayload requests a new number for a line.
type ProvisionNumberPayload struct {
	BusinessLineID string `json:"business_line_id" validate:"required"`
	AreaCode       string `json:"area_code,omitempty" validate:"omitempty,numeric,len=3"`
	RequestedBy    string `json:"requested_by,omitempty"`
}

// ReleaseNumberPayload requests the line's number be returned to the provider.
type ReleaseNumberPayload struct {
	BusinessLineID string `json:"business_line_id" validate:"required"`
	RequestedBy    string `json:"requested_by,omitempty"`
}
