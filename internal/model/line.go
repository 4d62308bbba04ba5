package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// LineMode gates whether outbound actions are allowed on a line.
type LineMode string

const (
	LineModeFullDuplex  LineMode = "full_duplex"
	LineModeInboundOnly LineMode = "inbound_only"
)

// LineStatus is the soft lifecycle of a business line.
type LineStatus string

const (
	LineStatusActive    LineStatus = "active"
	LineStatusSuspended LineStatus = "suspended"
	LineStatusReleased  LineStatus = "released"
)

// BusinessLine is a tenant's provisioned communication endpoint. Lines are
// never hard-deleted. PhoneNumber is unique among non-empty values (partial
// index created at migration time).
type BusinessLine struct {
	ID            string     `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID      string     `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	OwnerOfficeID string     `json:"owner_office_id" gorm:"column:owner_office_id"`
	LineMode      LineMode   `json:"line_mode" gorm:"column:line_mode;not null"`
	PhoneNumber   string     `json:"phone_number,omitempty" gorm:"column:phone_number;index"`
	SetupComplete bool       `json:"setup_complete" gorm:"column:setup_complete"`
	Status        LineStatus `json:"status" gorm:"column:status;not null"`
	CreatedAt     time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the BusinessLine model, respecting the Namer.
func (BusinessLine) TableName(namer schema.Namer) string {
	return namer.TableName("business_lines")
}

// ResourceStatus tracks whether a provider resource is still held.
type ResourceStatus string

const (
	ResourceStatusActive   ResourceStatus = "active"
	ResourceStatusReleased ResourceStatus = "released"
)

// ProviderResource is a concrete third-party resource, such as a purchased
// phone number, bound to a business line.
type ProviderResource struct {
	ID                 string         `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID           string         `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	BusinessLineID     string         `json:"business_line_id" gorm:"column:business_line_id;not null;index"`
	Provider           string         `json:"provider" gorm:"column:provider;not null;uniqueIndex:idx_provider_resources_key,priority:1"`
	ResourceType       string         `json:"resource_type" gorm:"column:resource_type;not null"`
	ProviderResourceID string         `json:"provider_resource_id" gorm:"column:provider_resource_id;not null;uniqueIndex:idx_provider_resources_key,priority:2"`
	PhoneNumber        string         `json:"phone_number" gorm:"column:phone_number"`
	Status             ResourceStatus `json:"status" gorm:"column:status;not null"`
	JobID              string         `json:"job_id,omitempty" gorm:"column:job_id"`
	ReleasedAt         *time.Time     `json:"released_at,omitempty" gorm:"column:released_at"`
	CreatedAt          time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the ProviderResource model, respecting the Namer.
func (ProviderResource) TableName(namer schema.Namer) string {
	return namer.TableName("provider_resources")
}

// ProviderResourceUpdatableFields are rewritten when a provisioning job is re-executed.
func ProviderResourceUpdatableFields() []string {
	return []string{"phone_number", "status", "updated_at"}
}
