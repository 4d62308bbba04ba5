package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
)

// LineDirectory resolves a phone number to the owning line across all tenants.
type LineDirectory interface {
	FindLineByPhoneUnscoped(ctx context.Context, phone string) (*model.BusinessLine, error)
}

// BusinessLineRepo defines tenant-scoped line storage operations
type BusinessLineRepo interface {
	Save(ctx context.Context, line *model.BusinessLine) error
	FindByID(ctx context.Context, lineID string) (*model.BusinessLine, error)
	BindNumber(ctx context.Context, lineID, phone string) error
	ReleaseNumber(ctx context.Context, lineID string) error
}

// ProviderResourceRepo defines provider resource storage operations
type ProviderResourceRepo interface {
	Upsert(ctx context.Context, res *model.ProviderResource) error
	FindActiveByLine(ctx context.Context, lineID string) (*model.ProviderResource, error)
	MarkReleased(ctx context.Context, resourceID string) error
}

// WebhookEventRepo deduplicates provider callbacks
type WebhookEventRepo interface {
	RecordIfNew(ctx context.Context, event *model.WebhookEvent) (bool, error)
}

// OutboxRepo defines the durable job queue.
// Enqueue and FindJobByID are tenant-scoped; the rest are worker operations spanning tenants.
type OutboxRepo interface {
	Enqueue(ctx context.Context, job *model.OutboxJob) (jobID string, created bool, err error)
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]model.OutboxJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, errMsg string, retryIn time.Duration) error
	FailTerminal(ctx context.Context, jobID, errMsg string) error
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
	FindJobByID(ctx context.Context, jobID string) (*model.OutboxJob, error)
}

// ReceiptRepo appends action receipts
type ReceiptRepo interface {
	Save(ctx context.Context, receipt *model.ActionReceipt) error
}

// CallRepo defines call session storage operations
type CallRepo interface {
	UpsertStatus(ctx context.Context, session *model.CallSession) (bool, error)
	FindByProviderID(ctx context.Context, provider, providerCallID string) (*model.CallSession, error)
	Finalize(ctx context.Context, sessionID string, durationSeconds int, endedAt time.Time) (bool, error)
}

// SmsRepo defines SMS thread and message storage operations
type SmsRepo interface {
	UpsertThread(ctx context.Context, thread *model.SmsThread) error
	UpsertMessage(ctx context.Context, msg *model.SmsMessage) (bool, error)
}

// VoicemailRepo defines voicemail storage operations
type VoicemailRepo interface {
	Save(ctx context.Context, vm *model.Voicemail) (bool, error)
	AttachToSession(ctx context.Context, provider, providerCallID, sessionID string) (int64, error)
}

// ComplianceRepo defines gate and opt-out storage operations
type ComplianceRepo interface {
	FindGate(ctx context.Context) (*model.ComplianceGate, error)
	SaveGate(ctx context.Context, gate *model.ComplianceGate) error
	IsOptedOut(ctx context.Context, phone string, channel model.Channel) (bool, error)
	AddOptOut(ctx context.Context, optOut *model.OptOut) error
	RemoveOptOut(ctx context.Context, phone string, channel model.Channel) error
}

// Pinger reports database reachability
type Pinger interface {
	Ping(ctx context.Context) error
}
