package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Direction of a call or message relative to the business line.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallSession is the domain view of one provider call.
type CallSession struct {
	ID              string     `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID        string     `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	BusinessLineID  string     `json:"business_line_id" gorm:"column:business_line_id;index"`
	Provider        string     `json:"provider" gorm:"column:provider;not null;uniqueIndex:idx_call_sessions_key,priority:1"`
	ProviderCallID  string     `json:"provider_call_id" gorm:"column:provider_call_id;not null;uniqueIndex:idx_call_sessions_key,priority:2"`
	Direction       Direction  `json:"direction" gorm:"column:direction"`
	FromNumber      string     `json:"from_number" gorm:"column:from_number"`
	ToNumber        string     `json:"to_number" gorm:"column:to_number"`
	Status          string     `json:"status" gorm:"column:status;not null"`
	StatusSequence  int64      `json:"status_sequence" gorm:"column:status_sequence;not null"`
	StartedAt       *time.Time `json:"started_at,omitempty" gorm:"column:started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" gorm:"column:ended_at"`
	DurationSeconds int        `json:"duration_seconds" gorm:"column:duration_seconds"`
	Finalized       bool       `json:"finalized" gorm:"column:finalized"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the CallSession model, respecting the Namer.
func (CallSession) TableName(namer schema.Namer) string {
	return namer.TableName("call_sessions")
}

// Voicemail is a recording left on a call.
type Voicemail struct {
	ID              string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID        string    `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	CallSessionID   string    `json:"call_session_id,omitempty" gorm:"column:call_session_id;index"`
	Provider        string    `json:"provider" gorm:"column:provider;not null;uniqueIndex:idx_voicemails_key,priority:1"`
	RecordingSid    string    `json:"recording_sid" gorm:"column:recording_sid;not null;uniqueIndex:idx_voicemails_key,priority:2"`
	ProviderCallID  string    `json:"provider_call_id" gorm:"column:provider_call_id;index"`
	RecordingURL    string    `json:"recording_url" gorm:"column:recording_url"`
	DurationSeconds int       `json:"duration_seconds" gorm:"column:duration_seconds"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for the Voicemail model, respecting the Namer.
func (Voicemail) TableName(namer schema.Namer) string {
	return namer.TableName("voicemails")
}
