package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
)

// Repositories groups every adapter over one PostgresRepo.
type Repositories struct {
	Lines      LineDirectory
	Line       BusinessLineRepo
	Resources  ProviderResourceRepo
	Events     WebhookEventRepo
	Outbox     OutboxRepo
	Receipts   ReceiptRepo
	Calls      CallRepo
	Sms        SmsRepo
	Voicemails VoicemailRepo
	Compliance ComplianceRepo
}

// NewRepositories wires all adapters to postgres
func NewRepositories(postgres *PostgresRepo) Repositories {
	return Repositories{
		Lines:      postgres,
		Line:       NewBusinessLineRepoAdapter(postgres),
		Resources:  NewProviderResourceRepoAdapter(postgres),
		Events:     NewWebhookEventRepoAdapter(postgres),
		Outbox:     NewOutboxRepoAdapter(postgres),
		Receipts:   NewReceiptRepoAdapter(postgres),
		Calls:      NewCallRepoAdapter(postgres),
		Sms:        NewSmsRepoAdapter(postgres),
		Voicemails: NewVoicemailRepoAdapter(postgres),
		Compliance: NewComplianceRepoAdapter(postgres),
	}
}

// BusinessLineRepoAdapter adapts the PostgresRepo to the BusinessLineRepo interface
type BusinessLineRepoAdapter struct {
	postgres *PostgresRepo
}

// NewBusinessLineRepoAdapter creates a new business line repository adapter
func NewBusinessLineRepoAdapter(postgres *PostgresRepo) BusinessLineRepo {
	return &BusinessLineRepoAdapter{postgres: postgres}
}

func (a *BusinessLineRepoAdapter) Save(ctx context.Context, line *model.BusinessLine) error {
	return a.postgres.SaveBusinessLine(ctx, line)
}

func (a *BusinessLineRepoAdapter) FindByID(ctx context.Context, lineID string) (*model.BusinessLine, error) {
	return a.postgres.FindBusinessLineByID(ctx, lineID)
}

func (a *BusinessLineRepoAdapter) BindNumber(ctx context.Context, lineID, phone string) error {
	return a.postgres.BindLineNumber(ctx, lineID, phone)
}

func (a *BusinessLineRepoAdapter) ReleaseNumber(ctx context.Context, lineID string) error {
	return a.postgres.MarkLineReleased(ctx, lineID)
}

// ProviderResourceRepoAdapter adapts the PostgresRepo to the ProviderResourceRepo interface
type ProviderResourceRepoAdapter struct {
	postgres *PostgresRepo
}

// NewProviderResourceRepoAdapter creates a new provider resource repository adapter
func NewProviderResourceRepoAdapter(postgres *PostgresRepo) ProviderResourceRepo {
	return &ProviderResourceRepoAdapter{postgres: postgres}
}

func (a *ProviderResourceRepoAdapter) Upsert(ctx context.Context, res *model.ProviderResource) error {
	return a.postgres.UpsertProviderResource(ctx, res)
}

func (a *ProviderResourceRepoAdapter) FindActiveByLine(ctx context.Context, lineID string) (*model.ProviderResource, error) {
	return a.postgres.FindActiveResourceByLine(ctx, lineID)
}

func (a *ProviderResourceRepoAdapter) MarkReleased(ctx context.Context, resourceID string) error {
	return a.postgres.MarkResourceReleased(ctx, resourceID)
}

// WebhookEventRepoAdapter adapts the PostgresRepo to the WebhookEventRepo interface
type WebhookEventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewWebhookEventRepoAdapter creates a new webhook event repository adapter
func NewWebhookEventRepoAdapter(postgres *PostgresRepo) WebhookEventRepo {
	return &WebhookEventRepoAdapter{postgres: postgres}
}

func (a *WebhookEventRepoAdapter) RecordIfNew(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	return a.postgres.RecordWebhookEventIfNew(ctx, event)
}

// OutboxRepoAdapter adapts the PostgresRepo to the OutboxRepo interface
type OutboxRepoAdapter struct {
	postgres *PostgresRepo
}

// NewOutboxRepoAdapter creates a new outbox repository adapter
func NewOutboxRepoAdapter(postgres *PostgresRepo) OutboxRepo {
	return &OutboxRepoAdapter{postgres: postgres}
}

func (a *OutboxRepoAdapter) Enqueue(ctx context.Context, job *model.OutboxJob) (string, bool, error) {
	return a.postgres.EnqueueJob(ctx, job)
}

func (a *OutboxRepoAdapter) ClaimBatch(ctx context.Context, workerID string, limit int) ([]model.OutboxJob, error) {
	return a.postgres.ClaimBatch(ctx, workerID, limit)
}

func (a *OutboxRepoAdapter) Complete(ctx context.Context, jobID string) error {
	return a.postgres.CompleteJob(ctx, jobID)
}

func (a *OutboxRepoAdapter) Fail(ctx context.Context, jobID, errMsg string, retryIn time.Duration) error {
	return a.postgres.FailJob(ctx, jobID, errMsg, retryIn)
}

func (a *OutboxRepoAdapter) FailTerminal(ctx context.Context, jobID, errMsg string) error {
	return a.postgres.FailJobTerminal(ctx, jobID, errMsg)
}

func (a *OutboxRepoAdapter) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return a.postgres.ReleaseStaleClaims(ctx, olderThan)
}

func (a *OutboxRepoAdapter) FindJobByID(ctx context.Context, jobID string) (*model.OutboxJob, error) {
	return a.postgres.FindJobByID(ctx, jobID)
}

// ReceiptRepoAdapter adapts the PostgresRepo to the ReceiptRepo interface
type ReceiptRepoAdapter struct {
	postgres *PostgresRepo
}

// NewReceiptRepoAdapter creates a new receipt repository adapter
func NewReceiptRepoAdapter(postgres *PostgresRepo) ReceiptRepo {
	return &ReceiptRepoAdapter{postgres: postgres}
}

func (a *ReceiptRepoAdapter) Save(ctx context.Context, receipt *model.ActionReceipt) error {
	return a.postgres.SaveReceipt(ctx, receipt)
}

// CallRepoAdapter adapts the PostgresRepo to the CallRepo interface
type CallRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCallRepoAdapter creates a new call repository adapter
func NewCallRepoAdapter(postgres *PostgresRepo) CallRepo {
	return &CallRepoAdapter{postgres: postgres}
}

func (a *CallRepoAdapter) UpsertStatus(ctx context.Context, session *model.CallSession) (bool, error) {
	return a.postgres.UpsertCallStatus(ctx, session)
}

func (a *CallRepoAdapter) FindByProviderID(ctx context.Context, provider, providerCallID string) (*model.CallSession, error) {
	return a.postgres.FindCallByProviderID(ctx, provider, providerCallID)
}

func (a *CallRepoAdapter) Finalize(ctx context.Context, sessionID string, durationSeconds int, endedAt time.Time) (bool, error) {
	return a.postgres.FinalizeCall(ctx, sessionID, durationSeconds, endedAt)
}

// SmsRepoAdapter adapts the PostgresRepo to the SmsRepo interface
type SmsRepoAdapter struct {
	postgres *PostgresRepo
}

// NewSmsRepoAdapter creates a new SMS repository adapter
func NewSmsRepoAdapter(postgres *PostgresRepo) SmsRepo {
	return &SmsRepoAdapter{postgres: postgres}
}

func (a *SmsRepoAdapter) UpsertThread(ctx context.Context, thread *model.SmsThread) error {
	return a.postgres.UpsertSmsThread(ctx, thread)
}

func (a *SmsRepoAdapter) UpsertMessage(ctx context.Context, msg *model.SmsMessage) (bool, error) {
	return a.postgres.UpsertSmsMessage(ctx, msg)
}

// VoicemailRepoAdapter adapts the PostgresRepo to the VoicemailRepo interface
type VoicemailRepoAdapter struct {
	postgres *PostgresRepo
}

// NewVoicemailRepoAdapter creates a new voicemail repository adapter
func NewVoicemailRepoAdapter(postgres *PostgresRepo) VoicemailRepo {
	return &VoicemailRepoAdapter{postgres: postgres}
}

func (a *VoicemailRepoAdapter) Save(ctx context.Context, vm *model.Voicemail) (bool, error) {
	return a.postgres.SaveVoicemail(ctx, vm)
}

func (a *VoicemailRepoAdapter) AttachToSession(ctx context.Context, provider, providerCallID, sessionID string) (int64, error) {
	return a.postgres.AttachVoicemails(ctx, provider, providerCallID, sessionID)
}

// ComplianceRepoAdapter adapts the PostgresRepo to the ComplianceRepo interface
type ComplianceRepoAdapter struct {
	postgres *PostgresRepo
}

// NewComplianceRepoAdapter creates a new compliance repository adapter
func NewComplianceRepoAdapter(postgres *PostgresRepo) ComplianceRepo {
	return &ComplianceRepoAdapter{postgres: postgres}
}

func (a *ComplianceRepoAdapter) FindGate(ctx context.Context) (*model.ComplianceGate, error) {
	return a.postgres.FindComplianceGate(ctx)
}

func (a *ComplianceRepoAdapter) SaveGate(ctx context.Context, gate *model.ComplianceGate) error {
	return a.postgres.SaveComplianceGate(ctx, gate)
}

func (a *ComplianceRepoAdapter) IsOptedOut(ctx context.Context, phone string, channel model.Channel) (bool, error) {
	return a.postgres.IsOptedOut(ctx, phone, channel)
}

func (a *ComplianceRepoAdapter) AddOptOut(ctx context.Context, optOut *model.OptOut) error {
	return a.postgres.AddOptOut(ctx, optOut)
}

func (a *ComplianceRepoAdapter) RemoveOptOut(ctx context.Context, phone string, channel model.Channel) error {
	return a.postgres.RemoveOptOut(ctx, phone, channel)
}
