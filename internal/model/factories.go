package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakePhone returns a random E.164 number in the 555 test range.
func FakePhone() string {
	return gofakeit.Numerify("+1555#######")
}

// RandomJSONBMap generates JSON data from a map for testing.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// NewBusinessLine creates an active full-duplex line with fake data.
func NewBusinessLine(overrideDefaults ...*BusinessLine) *BusinessLine {
	base := &BusinessLine{
		ID:            gofakeit.UUID(),
		TenantID:      "tenant_" + gofakeit.LetterN(10),
		OwnerOfficeID: gofakeit.UUID(),
		LineMode:      LineModeFullDuplex,
		PhoneNumber:   FakePhone(),
		SetupComplete: true,
		Status:        LineStatusActive,
		CreatedAt:     utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:     utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.LineMode != "" {
			base.LineMode = ovr.LineMode
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
	}
	return base
}

// NewOutboxJob creates a pending job of the given type with fake data.
func NewOutboxJob(jobType JobType, overrideDefaults ...*OutboxJob) *OutboxJob {
	base := &OutboxJob{
		ID:             gofakeit.UUID(),
		TenantID:       "tenant_" + gofakeit.LetterN(10),
		JobType:        jobType,
		IdempotencyKey: gofakeit.UUID(),
		Payload:        RandomJSONBMap(map[string]interface{}{"stub_key": gofakeit.Word()}),
		Status:         JobStatusPending,
		NextAttemptAt:  utils.Now(),
		CorrelationID:  gofakeit.UUID(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.IdempotencyKey != "" {
			base.IdempotencyKey = ovr.IdempotencyKey
		}
		if ovr.Payload != nil {
			base.Payload = ovr.Payload
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		base.Attempts = ovr.Attempts
	}
	return base
}

// NewCallStatusPayload creates a voice status callback payload with fake data.
func NewCallStatusPayload(overrideDefaults ...*CallStatusPayload) *CallStatusPayload {
	seq := int64(gofakeit.Number(0, 5))
	base := &CallStatusPayload{
		Provider:       "twilio",
		BusinessLineID: gofakeit.UUID(),
		CallSid:        "CA" + gofakeit.LetterN(32),
		From:           FakePhone(),
		To:             FakePhone(),
		Direction:      DirectionInbound,
		CallStatus:     gofakeit.RandomString([]string{"ringing", "in-progress", "completed"}),
		SequenceNumber: &seq,
		Timestamp:      utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.BusinessLineID != "" {
			base.BusinessLineID = ovr.BusinessLineID
		}
		if ovr.CallSid != "" {
			base.CallSid = ovr.CallSid
		}
		if ovr.CallStatus != "" {
			base.CallStatus = ovr.CallStatus
		}
		if ovr.SequenceNumber != nil {
			base.SequenceNumber = ovr.SequenceNumber
		}
		if ovr.CallDuration != 0 {
			base.CallDuration = ovr.CallDuration
		}
	}
	return base
}

// NewSmsStatusPayload creates a delivery receipt payload with fake data.
func NewSmsStatusPayload(overrideDefaults ...*SmsStatusPayload) *SmsStatusPayload {
	base := &SmsStatusPayload{
		Provider:       "twilio",
		BusinessLineID: gofakeit.UUID(),
		MessageSid:     "SM" + gofakeit.LetterN(32),
		From:           FakePhone(),
		To:             FakePhone(),
		MessageStatus:  gofakeit.RandomString([]string{"sent", "delivered"}),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.BusinessLineID != "" {
			base.BusinessLineID = ovr.BusinessLineID
		}
		if ovr.MessageSid != "" {
			base.MessageSid = ovr.MessageSid
		}
		if ovr.MessageStatus != "" {
			base.MessageStatus = ovr.MessageStatus
		}
		if ovr.From != "" {
			base.From = ovr.From
		}
		if ovr.To != "" {
			base.To = ovr.To
		}
	}
	return base
}

// NewSendSmsPayload creates an outbound SMS request with fake data.
func NewSendSmsPayload(overrideDefaults ...*SendSmsPayload) *SendSmsPayload {
	base := &SendSmsPayload{
		BusinessLineID: gofakeit.UUID(),
		To:             FakePhone(),
		Body:           gofakeit.Sentence(8),
		RequestedBy:    gofakeit.UUID(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.BusinessLineID != "" {
			base.BusinessLineID = ovr.BusinessLineID
		}
		if ovr.To != "" {
			base.To = ovr.To
		}
		if ovr.Body != "" {
			base.Body = ovr.Body
		}
	}
	return base
}
