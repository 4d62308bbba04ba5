package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// ComplianceGate holds tenant-level channel switches. A tenant without a
// gate row has every channel disabled.
type ComplianceGate struct {
	TenantID     string    `json:"tenant_id" gorm:"column:tenant_id;primaryKey"`
	SmsEnabled   bool      `json:"sms_enabled" gorm:"column:sms_enabled"`
	VoiceEnabled bool      `json:"voice_enabled" gorm:"column:voice_enabled"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the ComplianceGate model, respecting the Namer.
func (ComplianceGate) TableName(namer schema.Namer) string {
	return namer.TableName("compliance_gates")
}

// Channel is the communication channel an opt-out applies to.
type Channel string

const (
	ChannelSms   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// OptOut suppresses outbound traffic to one recipient on one channel.
type OptOut struct {
	ID          string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID    string    `json:"tenant_id" gorm:"column:tenant_id;not null;uniqueIndex:idx_opt_outs_key,priority:1"`
	PhoneNumber string    `json:"phone_number" gorm:"column:phone_number;not null;uniqueIndex:idx_opt_outs_key,priority:2"`
	Channel     Channel   `json:"channel" gorm:"column:channel;not null;uniqueIndex:idx_opt_outs_key,priority:3"`
	Reason      string    `json:"reason,omitempty" gorm:"column:reason"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for the OptOut model, respecting the Namer.
func (OptOut) TableName(namer schema.Namer) string {
	return namer.TableName("opt_outs")
}
