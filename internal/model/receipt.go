package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ActorType says who initiated the action a receipt describes.
type ActorType string

const (
	ActorSystem   ActorType = "system"
	ActorUser     ActorType = "user"
	ActorProvider ActorType = "provider"
)

// ReceiptOutcome is the recorded result of an action.
type ReceiptOutcome string

const (
	OutcomeSuccess         ReceiptOutcome = "success"
	OutcomeFailed          ReceiptOutcome = "failed"
	OutcomeBlocked         ReceiptOutcome = "blocked"
	OutcomeDuplicate       ReceiptOutcome = "duplicate"
	OutcomeUnauthenticated ReceiptOutcome = "unauthenticated"
	OutcomeUnknownTenant   ReceiptOutcome = "unknown_tenant"
	OutcomeQueued          ReceiptOutcome = "queued"
)

// ActionReceipt is an append-only audit record. Rows are never updated.
type ActionReceipt struct {
	ID            string         `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID      string         `json:"tenant_id" gorm:"column:tenant_id;not null;index:idx_action_receipts_tenant_created,priority:1"`
	ActorType     ActorType      `json:"actor_type" gorm:"column:actor_type;not null"`
	ActorID       string         `json:"actor_id,omitempty" gorm:"column:actor_id"`
	ActionType    string         `json:"action_type" gorm:"column:action_type;not null;index"`
	CorrelationID string         `json:"correlation_id,omitempty" gorm:"column:correlation_id;index"`
	JobID         string         `json:"job_id,omitempty" gorm:"column:job_id;index"`
	Outcome       ReceiptOutcome `json:"outcome" gorm:"column:outcome;not null"`
	Reason        string         `json:"reason,omitempty" gorm:"column:reason;type:text"`
	Payload       datatypes.JSON `json:"payload,omitempty" gorm:"column:payload;type:jsonb"`
	CreatedAt     time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime;index:idx_action_receipts_tenant_created,priority:2"`
}

// TableName specifies the table name for the ActionReceipt model, respecting the Namer.
func (ActionReceipt) TableName(namer schema.Namer) string {
	return namer.TableName("action_receipts")
}
