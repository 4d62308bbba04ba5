package webhook

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
)

func TestParse_VoiceStatus(t *testing.T) {
	form := url.Values{
		"CallSid":        {"CA1"},
		"CallStatus":     {"ringing"},
		"From":           {"+15550000001"},
		"To":             {"+15550000002"},
		"Direction":      {"inbound"},
		"SequenceNumber": {"2"},
		"CallDuration":   {"0"},
	}

	ev, err := Parse("Twilio", model.EventVoiceStatus, form)
	require.NoError(t, err)
	assert.Equal(t, "twilio", ev.Provider)
	assert.Equal(t, "twilio:voice.status:CA1:2", ev.EventID)
	assert.Equal(t, "CA1", ev.RelatedID)
	assert.Equal(t, "+15550000002", ev.Destination)

	payload, ok := ev.Payload.(*model.CallStatusPayload)
	require.True(t, ok)
	require.NotNil(t, payload.SequenceNumber)
	assert.Equal(t, int64(2), *payload.SequenceNumber)
	assert.Equal(t, model.DirectionInbound, payload.Direction)
}

func TestParse_VoiceStatusOutboundUsesFrom(t *testing.T) {
	form := url.Values{
		"CallSid":    {"CA2"},
		"CallStatus": {"completed"},
		"From":       {"+15550000001"},
		"To":         {"+15550000002"},
		"Direction":  {"outbound-api"},
	}

	ev, err := Parse("twilio", model.EventVoiceStatus, form)
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", ev.Destination)
	assert.Equal(t, "twilio:voice.status:CA2:completed", ev.EventID)
	assert.Nil(t, ev.Payload.(*model.CallStatusPayload).SequenceNumber)
}

func TestParse_SmsStatusKeysPerStatus(t *testing.T) {
	base := url.Values{"MessageSid": {"SM1"}, "From": {"+15550000001"}, "To": {"+15550000002"}}

	sent := cloneForm(base)
	sent.Set("MessageStatus", "sent")
	delivered := cloneForm(base)
	delivered.Set("MessageStatus", "delivered")

	a, err := Parse("twilio", model.EventSmsStatus, sent)
	require.NoError(t, err)
	b, err := Parse("twilio", model.EventSmsStatus, delivered)
	require.NoError(t, err)
	again, err := Parse("twilio", model.EventSmsStatus, delivered)
	require.NoError(t, err)

	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, b.EventID, again.EventID)
	assert.Equal(t, "+15550000001", a.Destination)
}

func TestParse_SmsInboundAndRecording(t *testing.T) {
	ev, err := Parse("twilio", model.EventSmsInbound, url.Values{
		"SmsSid": {"SM9"}, "From": {"+15550000001"}, "To": {"+15550000002"}, "Body": {" STOP "},
	})
	require.NoError(t, err)
	assert.Equal(t, "twilio:sms.inbound:SM9", ev.EventID)
	assert.Equal(t, " STOP ", ev.Payload.(*model.SmsInboundPayload).Body)
	assert.Equal(t, "+15550000002", ev.Destination)

	rec, err := Parse("twilio", model.EventVoiceRecording, url.Values{
		"CallSid": {"CA1"}, "RecordingSid": {"RE1"}, "RecordingUrl": {"https://rec.example/RE1"},
		"RecordingDuration": {"14"}, "Called": {"+15550000002"},
	})
	require.NoError(t, err)
	assert.Equal(t, "twilio:voice.recording:RE1", rec.EventID)
	assert.Equal(t, "CA1", rec.RelatedID)
	assert.Equal(t, "+15550000002", rec.Destination)
	assert.Equal(t, 14, rec.Payload.(*model.VoicemailPayload).RecordingDuration)
}

func TestParse_RecordingOfOutboundCallUsesFrom(t *testing.T) {
	rec, err := Parse("twilio", model.EventVoiceRecording, url.Values{
		"CallSid": {"CA3"}, "RecordingSid": {"RE3"}, "RecordingUrl": {"https://rec.example/RE3"},
		"From": {"+15550000001"}, "To": {"+15557770000"}, "Direction": {"outbound-dial"},
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", rec.Destination)

	rec, err = Parse("twilio", model.EventVoiceRecording, url.Values{
		"CallSid": {"CA4"}, "RecordingSid": {"RE4"}, "RecordingUrl": {"https://rec.example/RE4"},
		"Caller": {"+15550000001"}, "Called": {"+15557770000"}, "Direction": {"outbound-api"},
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", rec.Destination)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		kind model.EventKind
		form url.Values
	}{
		{"voice without sid", model.EventVoiceStatus, url.Values{"CallStatus": {"ringing"}}},
		{"voice bad sequence", model.EventVoiceStatus, url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}, "SequenceNumber": {"x"}}},
		{"sms without to", model.EventSmsInbound, url.Values{"MessageSid": {"SM1"}, "From": {"+1"}}},
		{"status without status", model.EventSmsStatus, url.Values{"MessageSid": {"SM1"}}},
		{"recording without url", model.EventVoiceRecording, url.Values{"CallSid": {"CA1"}, "RecordingSid": {"RE1"}}},
		{"unknown kind", model.EventKind("fax.inbound"), url.Values{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("twilio", tt.kind, tt.form)
			assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}
}

func cloneForm(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
