package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// WebhookEvent is the dedup ledger. One row per (provider, provider_event_id);
// rows are write-once.
type WebhookEvent struct {
	ID              string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID        *string   `json:"tenant_id,omitempty" gorm:"column:tenant_id;index"`
	Provider        string    `json:"provider" gorm:"column:provider;not null;uniqueIndex:idx_webhook_events_key,priority:1"`
	ProviderEventID string    `json:"provider_event_id" gorm:"column:provider_event_id;not null;uniqueIndex:idx_webhook_events_key,priority:2"`
	RelatedID       string    `json:"related_id,omitempty" gorm:"column:related_id;index"`
	EventType       string    `json:"event_type" gorm:"column:event_type;not null"`
	PayloadHash     string    `json:"payload_hash" gorm:"column:payload_hash;not null"`
	ReceivedAt      time.Time `json:"received_at" gorm:"column:received_at;not null"`
}

// TableName specifies the table name for the WebhookEvent model, respecting the Namer.
func (WebhookEvent) TableName(namer schema.Namer) string {
	return namer.TableName("webhook_events")
}
