package provider

import (
	"context"
)

// Client is the outbound surface of a telephony/messaging provider. It is only
// called from action job handlers.
type Client interface {
	SendSMS(ctx context.Context, req SendSMSRequest) (*SendSMSResult, error)
	PlaceCall(ctx context.Context, req PlaceCallRequest) (*PlaceCallResult, error)
	ProvisionNumber(ctx context.Context, req ProvisionNumberRequest) (*ProvisionNumberResult, error)
	// ReleaseNumber treats an already released number as success.
	ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error
	// Name is the provider key used in stored rows and dedup keys.
	Name() string
}

// SendSMSRequest sends Body from the line number From to To.
type SendSMSRequest struct {
	IdempotencyKey string `json:"-"`
	From           string `json:"from"`
	To             string `json:"to"`
	Body           string `json:"body"`
	StatusCallback string `json:"status_callback,omitempty"`
}

// SendSMSResult carries the provider message id.
type SendSMSResult struct {
	MessageSid string `json:"sid"`
	Status     string `json:"status"`
}

// PlaceCallRequest dials To from the line number From.
type PlaceCallRequest struct {
	IdempotencyKey string `json:"-"`
	From           string `json:"from"`
	To             string `json:"to"`
	StatusCallback string `json:"status_callback,omitempty"`
}

// PlaceCallResult carries the provider call id.
type PlaceCallResult struct {
	CallSid string `json:"sid"`
	Status  string `json:"status"`
}

// ProvisionNumberRequest buys a number, optionally within an area code.
type ProvisionNumberRequest struct {
	IdempotencyKey string `json:"-"`
	AreaCode       string `json:"area_code,omitempty"`
	SmsCallback    string `json:"sms_callback,omitempty"`
	VoiceCallback  string `json:"voice_callback,omitempty"`
}

// ProvisionNumberResult identifies the purchased number.
type ProvisionNumberResult struct {
	ResourceID  string `json:"sid"`
	PhoneNumber string `json:"phone_number"`
}

// ReleaseNumberRequest returns a purchased number.
type ReleaseNumberRequest struct {
	IdempotencyKey string `json:"-"`
	ResourceID     string `json:"-"`
}
