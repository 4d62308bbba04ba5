package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
)

// --- LineDirectory Mock ---

// LineDirectoryMock mocks the LineDirectory interface
type LineDirectoryMock struct {
	mock.Mock
}

func (m *LineDirectoryMock) FindLineByPhoneUnscoped(ctx context.Context, phone string) (*model.BusinessLine, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BusinessLine), args.Error(1)
}

// --- BusinessLineRepo Mock ---

// BusinessLineRepoMock mocks the BusinessLineRepo interface
type BusinessLineRepoMock struct {
	mock.Mock
}

func (m *BusinessLineRepoMock) Save(ctx context.Context, line *model.BusinessLine) error {
	args := m.Called(ctx, line)
	return args.Error(0)
}

func (m *BusinessLineRepoMock) FindByID(ctx context.Context, lineID string) (*model.BusinessLine, error) {
	args := m.Called(ctx, lineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BusinessLine), args.Error(1)
}

func (m *BusinessLineRepoMock) BindNumber(ctx context.Context, lineID, phone string) error {
	args := m.Called(ctx, lineID, phone)
	return args.Error(0)
}

func (m *BusinessLineRepoMock) ReleaseNumber(ctx context.Context, lineID string) error {
	args := m.Called(ctx, lineID)
	return args.Error(0)
}

// --- ProviderResourceRepo Mock ---

// ProviderResourceRepoMock mocks the ProviderResourceRepo interface
type ProviderResourceRepoMock struct {
	mock.Mock
}

func (m *ProviderResourceRepoMock) Upsert(ctx context.Context, res *model.ProviderResource) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *ProviderResourceRepoMock) FindActiveByLine(ctx context.Context, lineID string) (*model.ProviderResource, error) {
	args := m.Called(ctx, lineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProviderResource), args.Error(1)
}

func (m *ProviderResourceRepoMock) MarkReleased(ctx context.Context, resourceID string) error {
	args := m.Called(ctx, resourceID)
	return args.Error(0)
}

// --- WebhookEventRepo Mock ---

// WebhookEventRepoMock mocks the WebhookEventRepo interface
type WebhookEventRepoMock struct {
	mock.Mock
}

func (m *WebhookEventRepoMock) RecordIfNew(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

// --- OutboxRepo Mock ---

// OutboxRepoMock mocks the OutboxRepo interface
type OutboxRepoMock struct {
	mock.Mock
}

func (m *OutboxRepoMock) Enqueue(ctx context.Context, job *model.OutboxJob) (string, bool, error) {
	args := m.Called(ctx, job)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *OutboxRepoMock) ClaimBatch(ctx context.Context, workerID string, limit int) ([]model.OutboxJob, error) {
	args := m.Called(ctx, workerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboxJob), args.Error(1)
}

func (m *OutboxRepoMock) Complete(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *OutboxRepoMock) Fail(ctx context.Context, jobID, errMsg string, retryIn time.Duration) error {
	args := m.Called(ctx, jobID, errMsg, retryIn)
	return args.Error(0)
}

func (m *OutboxRepoMock) FailTerminal(ctx context.Context, jobID, errMsg string) error {
	args := m.Called(ctx, jobID, errMsg)
	return args.Error(0)
}

func (m *OutboxRepoMock) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *OutboxRepoMock) FindJobByID(ctx context.Context, jobID string) (*model.OutboxJob, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboxJob), args.Error(1)
}

// --- ReceiptRepo Mock ---

// ReceiptRepoMock mocks the ReceiptRepo interface
type ReceiptRepoMock struct {
	mock.Mock
}

func (m *ReceiptRepoMock) Save(ctx context.Context, receipt *model.ActionReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

// --- CallRepo Mock ---

// CallRepoMock mocks the CallRepo interface
type CallRepoMock struct {
	mock.Mock
}

func (m *CallRepoMock) UpsertStatus(ctx context.Context, session *model.CallSession) (bool, error) {
	args := m.Called(ctx, session)
	return args.Bool(0), args.Error(1)
}

func (m *CallRepoMock) FindByProviderID(ctx context.Context, provider, providerCallID string) (*model.CallSession, error) {
	args := m.Called(ctx, provider, providerCallID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallSession), args.Error(1)
}

func (m *CallRepoMock) Finalize(ctx context.Context, sessionID string, durationSeconds int, endedAt time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, durationSeconds, endedAt)
	return args.Bool(0), args.Error(1)
}

// --- SmsRepo Mock ---

// SmsRepoMock mocks the SmsRepo interface
type SmsRepoMock struct {
	mock.Mock
}

func (m *SmsRepoMock) UpsertThread(ctx context.Context, thread *model.SmsThread) error {
	args := m.Called(ctx, thread)
	return args.Error(0)
}

func (m *SmsRepoMock) UpsertMessage(ctx context.Context, msg *model.SmsMessage) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

// --- VoicemailRepo Mock ---

// VoicemailRepoMock mocks the VoicemailRepo interface
type VoicemailRepoMock struct {
	mock.Mock
}

func (m *VoicemailRepoMock) Save(ctx context.Context, vm *model.Voicemail) (bool, error) {
	args := m.Called(ctx, vm)
	return args.Bool(0), args.Error(1)
}

func (m *VoicemailRepoMock) AttachToSession(ctx context.Context, provider, providerCallID, sessionID string) (int64, error) {
	args := m.Called(ctx, provider, providerCallID, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

// --- ComplianceRepo Mock ---

// ComplianceRepoMock mocks the ComplianceRepo interface
type ComplianceRepoMock struct {
	mock.Mock
}

func (m *ComplianceRepoMock) FindGate(ctx context.Context) (*model.ComplianceGate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ComplianceGate), args.Error(1)
}

func (m *ComplianceRepoMock) SaveGate(ctx context.Context, gate *model.ComplianceGate) error {
	args := m.Called(ctx, gate)
	return args.Error(0)
}

func (m *ComplianceRepoMock) IsOptedOut(ctx context.Context, phone string, channel model.Channel) (bool, error) {
	args := m.Called(ctx, phone, channel)
	return args.Bool(0), args.Error(1)
}

func (m *ComplianceRepoMock) AddOptOut(ctx context.Context, optOut *model.OptOut) error {
	args := m.Called(ctx, optOut)
	return args.Error(0)
}

func (m *ComplianceRepoMock) RemoveOptOut(ctx context.Context, phone string, channel model.Channel) error {
	args := m.Called(ctx, phone, channel)
	return args.Error(0)
}
