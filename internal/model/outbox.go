package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// JobType identifies the handler an outbox job is dispatched to.
type JobType string

const (
	// Ingest jobs turn a verified provider callback into domain state.
	JobIngestCallStatus JobType = "ingest.call_status"
	JobIngestSmsInbound JobType = "ingest.sms_inbound"
	JobIngestSmsStatus  JobType = "ingest.sms_status"
	JobIngestVoicemail  JobType = "ingest.voicemail"

	// JobCallFinalize is chained after a call reaches a terminal status.
	JobCallFinalize JobType = "call.finalize"

	// Action jobs perform an outbound side effect at the provider.
	JobActionSendSms         JobType = "action.send_sms"
	JobActionPlaceCall       JobType = "action.place_call"
	JobActionProvisionNumber JobType = "action.provision_number"
	JobActionReleaseNumber   JobType = "action.release_number"
)

// AllJobTypes lists every job type the processor understands.
var AllJobTypes = []JobType{
	JobIngestCallStatus,
	JobIngestSmsInbound,
	JobIngestSmsStatus,
	JobIngestVoicemail,
	JobCallFinalize,
	JobActionSendSms,
	JobActionPlaceCall,
	JobActionProvisionNumber,
	JobActionReleaseNumber,
}

// ParseJobType maps a stored string back to a known JobType.
func ParseJobType(s string) (JobType, bool) {
	switch JobType(s) {
	case JobIngestCallStatus, JobIngestSmsInbound, JobIngestSmsStatus, JobIngestVoicemail,
		JobCallFinalize,
		JobActionSendSms, JobActionPlaceCall, JobActionProvisionNumber, JobActionReleaseNumber:
		return JobType(s), true
	default:
		return "", false
	}
}

// IsAction reports whether the job performs an outbound provider side effect.
func (t JobType) IsAction() bool {
	switch t {
	case JobActionSendSms, JobActionPlaceCall, JobActionProvisionNumber, JobActionReleaseNumber:
		return true
	default:
		return false
	}
}

// JobStatus is the outbox state machine position of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed is reached through a policy block or a non-retryable
	// error. Transient failures go back to pending.
	JobStatusFailed JobStatus = "failed"
)

// OutboxJob is a durable unit of pending work.
type OutboxJob struct {
	ID             string         `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	TenantID       string         `json:"tenant_id" gorm:"column:tenant_id;not null;uniqueIndex:idx_outbox_jobs_idempotency,priority:1"`
	JobType        JobType        `json:"job_type" gorm:"column:job_type;not null;uniqueIndex:idx_outbox_jobs_idempotency,priority:2"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"column:idempotency_key;not null;uniqueIndex:idx_outbox_jobs_idempotency,priority:3"`
	Payload        datatypes.JSON `json:"payload" gorm:"column:payload;type:jsonb;not null"`
	Status         JobStatus      `json:"status" gorm:"column:status;not null;index:idx_outbox_jobs_claimable,priority:1"`
	Attempts       int            `json:"attempts" gorm:"column:attempts;not null"`
	NextAttemptAt  time.Time      `json:"next_attempt_at" gorm:"column:next_attempt_at;not null;index:idx_outbox_jobs_claimable,priority:2"`
	ClaimedBy      string         `json:"claimed_by,omitempty" gorm:"column:claimed_by"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty" gorm:"column:claimed_at"`
	LastError      string         `json:"last_error,omitempty" gorm:"column:last_error;type:text"`
	CorrelationID  string         `json:"correlation_id,omitempty" gorm:"column:correlation_id;index"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty" gorm:"column:completed_at"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the OutboxJob model, respecting the Namer.
func (OutboxJob) TableName(namer schema.Namer) string {
	return namer.TableName("outbox_jobs")
}
