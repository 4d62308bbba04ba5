package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
)

type actionFixture struct {
	lines      *storagemock.BusinessLineRepoMock
	compliance *storagemock.ComplianceRepoMock
	store      *memStore
	receipts   *recordingReceipts
	service    *ActionService
	line       *model.BusinessLine
	ctx        context.Context
}

func newActionFixture(t *testing.T) *actionFixture {
	t.Helper()
	useTestLogger(t)
	line := model.NewBusinessLine(&model.BusinessLine{TenantID: "tenant_acme"})
	f := &actionFixture{
		lines:      new(storagemock.BusinessLineRepoMock),
		compliance: new(storagemock.ComplianceRepoMock),
		store:      newMemStore(),
		receipts:   &recordingReceipts{},
		line:       line,
		ctx:        tenant.WithCorrelationID(tenant.WithTenantID(context.Background(), line.TenantID), "corr-1"),
	}
	f.service = NewActionService(NewPolicy(f.lines, f.compliance), f.store, f.receipts)
	f.lines.On("FindByID", mock.Anything, line.ID).Return(line, nil)
	return f
}

func (f *actionFixture) allowSms() {
	f.compliance.On("FindGate", mock.Anything).Return(&model.ComplianceGate{TenantID: f.line.TenantID, SmsEnabled: true}, nil)
	f.compliance.On("IsOptedOut", mock.Anything, mock.Anything, model.ChannelSms).Return(false, nil)
}

func TestSubmit_EnqueueIsIdempotent(t *testing.T) {
	f := newActionFixture(t)
	f.allowSms()

	submit := func() ActionResult {
		res, err := f.service.Submit(f.ctx, ActionRequest{
			JobType:        model.JobActionSendSms,
			LineID:         f.line.ID,
			IdempotencyKey: "req-42",
			ActorID:        "user-1",
			Payload:        &model.SendSmsPayload{To: "+15557770000", Body: "hi"},
		})
		require.NoError(t, err)
		return res
	}

	first := submit()
	second := submit()

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)
	assert.NotEqual(t, first.ReceiptID, second.ReceiptID)

	jobs := f.store.jobsOfType(model.JobActionSendSms)
	require.Len(t, jobs, 1)
	assert.Equal(t, "req-42", jobs[0].IdempotencyKey)
	assert.Equal(t, "corr-1", jobs[0].CorrelationID)
	assert.Contains(t, string(jobs[0].Payload), `"requested_by":"user-1"`)
	assert.Contains(t, string(jobs[0].Payload), f.line.ID)

	assert.Len(t, f.receipts.withOutcome(model.OutcomeQueued), 1)
	assert.Len(t, f.receipts.withOutcome(model.OutcomeDuplicate), 1)
}

func TestSubmit_BlockedWritesReceipt(t *testing.T) {
	f := newActionFixture(t)
	f.compliance.On("FindGate", mock.Anything).Return(&model.ComplianceGate{SmsEnabled: true}, nil)
	f.compliance.On("IsOptedOut", mock.Anything, "+15557770000", model.ChannelSms).Return(true, nil)

	res, err := f.service.Submit(f.ctx, ActionRequest{
		JobType:        model.JobActionSendSms,
		LineID:         f.line.ID,
		IdempotencyKey: "req-1",
		Payload:        &model.SendSmsPayload{To: "+15557770000", Body: "hi"},
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsPolicyBlocked(err))
	assert.Empty(t, res.JobID)
	require.NotEmpty(t, res.ReceiptID)

	blockedReceipts := f.receipts.withOutcome(model.OutcomeBlocked)
	require.Len(t, blockedReceipts, 1)
	assert.Equal(t, res.ReceiptID, blockedReceipts[0].ID)
	assert.Equal(t, f.line.TenantID, blockedReceipts[0].TenantID)
	assert.Empty(t, f.store.jobsOfType(model.JobActionSendSms))
}

func TestSubmit_MissingGateBlocks(t *testing.T) {
	f := newActionFixture(t)
	f.compliance.On("FindGate", mock.Anything).Return(nil, apperrors.ErrNotFound)

	_, err := f.service.Submit(f.ctx, ActionRequest{
		JobType:        model.JobActionSendSms,
		LineID:         f.line.ID,
		IdempotencyKey: "req-1",
		Payload:        &model.SendSmsPayload{To: "+15557770000", Body: "hi"},
	})
	assert.True(t, apperrors.IsPolicyBlocked(err))
}

func TestSubmit_RejectsBadInput(t *testing.T) {
	f := newActionFixture(t)

	tests := []struct {
		name    string
		ctx     context.Context
		req     ActionRequest
		wantErr error
	}{
		{
			name:    "no tenant",
			ctx:     context.Background(),
			req:     ActionRequest{JobType: model.JobActionSendSms, LineID: f.line.ID, IdempotencyKey: "k", Payload: &model.SendSmsPayload{To: "+15557770000", Body: "x"}},
			wantErr: apperrors.ErrUnauthorized,
		},
		{
			name:    "missing idempotency key",
			ctx:     f.ctx,
			req:     ActionRequest{JobType: model.JobActionSendSms, LineID: f.line.ID, Payload: &model.SendSmsPayload{To: "+15557770000", Body: "x"}},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "invalid recipient",
			ctx:     f.ctx,
			req:     ActionRequest{JobType: model.JobActionSendSms, LineID: f.line.ID, IdempotencyKey: "k", Payload: &model.SendSmsPayload{To: "555", Body: "x"}},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "payload mismatch",
			ctx:     f.ctx,
			req:     ActionRequest{JobType: model.JobActionPlaceCall, LineID: f.line.ID, IdempotencyKey: "k", Payload: &model.SendSmsPayload{To: "+15557770000", Body: "x"}},
			wantErr: apperrors.ErrBadRequest,
		},
		{
			name:    "ingest job type",
			ctx:     f.ctx,
			req:     ActionRequest{JobType: model.JobIngestSmsStatus, LineID: f.line.ID, IdempotencyKey: "k"},
			wantErr: apperrors.ErrBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Submit(tt.ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.receipts.all())
}

func TestSubmit_ProvisionRequiresEmptyLine(t *testing.T) {
	f := newActionFixture(t)

	_, err := f.service.Submit(f.ctx, ActionRequest{
		JobType:        model.JobActionProvisionNumber,
		LineID:         f.line.ID,
		IdempotencyKey: "prov-1",
		Payload:        &model.ProvisionNumberPayload{AreaCode: "415"},
	})
	assert.True(t, apperrors.IsPolicyBlocked(err))
	assert.Len(t, f.receipts.withOutcome(model.OutcomeBlocked), 1)
}
