package model

import (
	"strings"
)

// EventKind is the provider callback source a webhook arrived on.
type EventKind string

const (
	EventVoiceStatus    EventKind = "voice.status"
	EventSmsInbound     EventKind = "sms.inbound"
	EventSmsStatus      EventKind = "sms.status"
	EventVoiceRecording EventKind = "voice.recording"
)

// ParseEventKind maps a route segment pair such as "voice/status" or an
// already dotted kind back to a known EventKind.
func ParseEventKind(input string) (EventKind, bool) {
	normalized := strings.ReplaceAll(strings.Trim(input, "/"), "/", ".")
	switch EventKind(normalized) {
	case EventVoiceStatus, EventSmsInbound, EventSmsStatus, EventVoiceRecording:
		return EventKind(normalized), true
	default:
		return "", false
	}
}

// JobType returns the ingest job that handles this kind of callback.
func (k EventKind) JobType() JobType {
	switch k {
	case EventVoiceStatus:
		return JobIngestCallStatus
	case EventSmsInbound:
		return JobIngestSmsInbound
	case EventSmsStatus:
		return JobIngestSmsStatus
	case EventVoiceRecording:
		return JobIngestVoicemail
	default:
		return ""
	}
}

// ProviderEvent is a verified-shape provider callback normalized for the
// ingest pipeline.
type ProviderEvent struct {
	Provider string
	Kind     EventKind
	// EventID is the dedup key. Literal retries of a callback produce the
	// same EventID; distinct callbacks for one call or message do not.
	EventID   string
	RelatedID string
	// Destination is the number that identifies the owning tenant.
	Destination string
	Payload     interface{}
}

// DedupKey builds {provider}:{kind}:{sid}[:{sequence}].
func DedupKey(provider string, kind EventKind, sid, sequence string) string {
	parts := []string{provider, string(kind), sid}
	if sequence != "" {
		parts = append(parts, sequence)
	}
	return strings.Join(parts, ":")
}
