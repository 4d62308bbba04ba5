package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
)

func TestValidate_ActionPayloads(t *testing.T) {
	ok := model.SendSmsPayload{BusinessLineID: "line-1", To: "+15551234567", Body: "hi"}
	assert.NoError(t, Validate(ok))

	err := Validate(model.SendSmsPayload{BusinessLineID: "line-1", To: "555-1234", Body: ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "field 'to' must be an E.164 phone number")
	assert.Contains(t, err.Error(), "field 'body' is required")

	err = Validate(model.ProvisionNumberPayload{BusinessLineID: "line-1", AreaCode: "41a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'area_code' must contain only digits")

	err = Validate(model.VoicemailPayload{Provider: "twilio", BusinessLineID: "l", CallSid: "CA1", RecordingSid: "RE1", RecordingURL: "not a url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'recording_url' must be a valid URL")
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("+15551234567", "e164"))
	assert.Error(t, ValidateVar("15551234567", "e164"))
}
