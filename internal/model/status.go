package model

import "strings"

// StatusMapping is the domain reading of a provider status string.
type StatusMapping struct {
	Status   string
	Terminal bool
	// Rank orders statuses within one lifecycle. It is used as the status
	// sequence when the provider does not supply one.
	Rank int64
}

var callStatusTable = map[string]StatusMapping{
	"queued":      {Status: "queued", Rank: 1},
	"initiated":   {Status: "initiated", Rank: 1},
	"ringing":     {Status: "ringing", Rank: 2},
	"in-progress": {Status: "in_progress", Rank: 3},
	"answered":    {Status: "in_progress", Rank: 3},
	"completed":   {Status: "completed", Terminal: true, Rank: 4},
	"busy":        {Status: "busy", Terminal: true, Rank: 4},
	"no-answer":   {Status: "no_answer", Terminal: true, Rank: 4},
	"canceled":    {Status: "canceled", Terminal: true, Rank: 4},
	"failed":      {Status: "failed", Terminal: true, Rank: 4},
}

var smsStatusTable = map[string]StatusMapping{
	"accepted":    {Status: "queued", Rank: 1},
	"scheduled":   {Status: "queued", Rank: 1},
	"queued":      {Status: "queued", Rank: 1},
	"sending":     {Status: "sending", Rank: 2},
	"sent":        {Status: "sent", Rank: 3},
	"receiving":   {Status: "receiving", Rank: 2},
	"received":    {Status: "received", Terminal: true, Rank: 4},
	"delivered":   {Status: "delivered", Terminal: true, Rank: 5},
	"undelivered": {Status: "undelivered", Terminal: true, Rank: 5},
	"failed":      {Status: "failed", Terminal: true, Rank: 5},
	"canceled":    {Status: "canceled", Terminal: true, Rank: 5},
	"read":        {Status: "read", Terminal: true, Rank: 6},
}

// MapCallStatus looks up a provider call status.
func MapCallStatus(providerStatus string) (StatusMapping, bool) {
	m, ok := callStatusTable[strings.ToLower(strings.TrimSpace(providerStatus))]
	return m, ok
}

// MapSmsStatus looks up a provider message status.
func MapSmsStatus(providerStatus string) (StatusMapping, bool) {
	m, ok := smsStatusTable[strings.ToLower(strings.TrimSpace(providerStatus))]
	return m, ok
}

// CallStatusSequence picks the ordering value stored with a call status.
// Provider sequence numbers start at zero, so they are shifted by one to stay
// above the zero sequence of a session created by a place-call action.
func CallStatusSequence(providerSequence *int64, m StatusMapping) int64 {
	if providerSequence != nil && *providerSequence >= 0 {
		return *providerSequence + 1
	}
	return m.Rank
}
