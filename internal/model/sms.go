package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// SmsThread groups messages between a line number and one counterparty.
type SmsThread struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID       string    `json:"tenant_id" gorm:"column:tenant_id;not null;uniqueIndex:idx_sms_threads_key,priority:1"`
	BusinessLineID string    `json:"business_line_id" gorm:"column:business_line_id;index"`
	LinePhone      string    `json:"line_phone" gorm:"column:line_phone;not null;uniqueIndex:idx_sms_threads_key,priority:2"`
	Counterparty   string    `json:"counterparty" gorm:"column:counterparty;not null;uniqueIndex:idx_sms_threads_key,priority:3"`
	LastMessageAt  time.Time `json:"last_message_at" gorm:"column:last_message_at"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the SmsThread model, respecting the Namer.
func (SmsThread) TableName(namer schema.Namer) string {
	return namer.TableName("sms_threads")
}

// SmsMessage is one provider message inside a thread.
type SmsMessage struct {
	ID                 string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID           string    `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	ThreadID           string    `json:"thread_id" gorm:"column:thread_id;index"`
	Provider           string    `json:"provider" gorm:"column:provider;not null;uniqueIndex:idx_sms_messages_key,priority:1"`
	ProviderMessageSid string    `json:"provider_message_sid" gorm:"column:provider_message_sid;not null;uniqueIndex:idx_sms_messages_key,priority:2"`
	Direction          Direction `json:"direction" gorm:"column:direction"`
	FromNumber         string    `json:"from_number" gorm:"column:from_number"`
	ToNumber           string    `json:"to_number" gorm:"column:to_number"`
	Body               string    `json:"body,omitempty" gorm:"column:body;type:text"`
	Status             string    `json:"status" gorm:"column:status;not null"`
	StatusSequence     int64     `json:"status_sequence" gorm:"column:status_sequence;not null"`
	ErrorCode          string    `json:"error_code,omitempty" gorm:"column:error_code"`
	CreatedAt          time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the SmsMessage model, respecting the Namer.
func (SmsMessage) TableName(namer schema.Namer) string {
	return namer.TableName("sms_messages")
}
