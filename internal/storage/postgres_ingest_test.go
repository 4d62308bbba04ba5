package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
)

func TestRecordWebhookEventIfNew(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantNew  bool
	}{
		{"first delivery", 1, true},
		{"replayed delivery", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, ctx := newTestRepo(t)
			event := &model.WebhookEvent{
				Provider:        testProvider,
				ProviderEventID: model.DedupKey(testProvider, model.EventSmsStatus, "SM1", "delivered"),
				EventType:       string(model.EventSmsStatus),
				PayloadHash:     "abc",
			}

			mock.ExpectExec(`INSERT INTO "webhook_events" .* ON CONFLICT \("provider","provider_event_id"\) DO NOTHING`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			isNew, err := repo.RecordWebhookEventIfNew(ctx, event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNew, isNew)
			require.NotNil(t, event.TenantID)
			assert.Equal(t, testTenantID, *event.TenantID)
		})
	}
}

func TestRecordWebhookEventIfNew_WithoutTenant(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectExec(`INSERT INTO "webhook_events"`).WillReturnResult(sqlmock.NewResult(0, 1))

	event := &model.WebhookEvent{Provider: testProvider, ProviderEventID: "twilio:voice.status:CA1:1", EventType: "voice.status", PayloadHash: "h"}
	isNew, err := repo.RecordWebhookEventIfNew(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Nil(t, event.TenantID)
}

func TestUpsertCallStatus_SequenceGuard(t *testing.T) {
	earlier := time.Now().Add(-time.Minute)
	tests := []struct {
		name        string
		rows        *sqlmock.Rows
		wantApplied bool
	}{
		{"newer sequence advances status", sqlmock.NewRows([]string{"id"}).AddRow("sess-1"), true},
		{"stale sequence keeps status", sqlmock.NewRows([]string{"id", "updated_at"}).AddRow("sess-1", earlier), false},
		{"row owned by another tenant", sqlmock.NewRows([]string{"id"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, ctx := newTestRepo(t)
			session := &model.CallSession{
				TenantID:       testTenantID,
				Provider:       testProvider,
				ProviderCallID: "CA123",
				Status:         "ringing",
				StatusSequence: 2,
			}

			mock.ExpectQuery(`INSERT INTO "call_sessions" .* ON CONFLICT \("provider","provider_call_id"\) DO UPDATE SET .*` +
				`"started_at"=LEAST\(call_sessions.started_at, excluded.started_at\),` +
				`"status"=CASE WHEN call_sessions.status_sequence < excluded.status_sequence THEN excluded.status ELSE call_sessions.status END,` +
				`"status_sequence"=GREATEST\(call_sessions.status_sequence, excluded.status_sequence\).* ` +
				`WHERE call_sessions.tenant_id = excluded.tenant_id RETURNING "id","updated_at"`).
				WillReturnRows(tt.rows)

			applied, err := repo.UpsertCallStatus(ctx, session)
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)
		})
	}
}

func TestUpsertCallStatus_TenantMismatch(t *testing.T) {
	repo, _, ctx := newTestRepo(t)
	_, err := repo.UpsertCallStatus(ctx, &model.CallSession{TenantID: "tenant-other", Provider: testProvider, ProviderCallID: "CA1"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestFindCallByProviderID(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "call_sessions" WHERE tenant_id = \$1 AND provider = \$2 AND provider_call_id = \$3`).
		WithArgs(testTenantID, testProvider, "CA123", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "provider", "provider_call_id", "status", "status_sequence"}).
			AddRow("sess-1", testTenantID, testProvider, "CA123", "completed", 4))

	session, err := repo.FindCallByProviderID(ctx, testProvider, "CA123")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, int64(4), session.StatusSequence)
}

func TestFinalizeCall(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectExec(`UPDATE "call_sessions" SET "duration_seconds"=GREATEST\(duration_seconds, \$1\),"ended_at"=COALESCE\(ended_at, \$2\),"finalized"=\$3,"updated_at"=\$4 WHERE id = \$5 AND tenant_id = \$6 AND finalized = \$7`).
		WithArgs(42, AnyTime{}, true, AnyTime{}, "sess-1", testTenantID, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "call_sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	done, err := repo.FinalizeCall(ctx, "sess-1", 42, time.Now())
	require.NoError(t, err)
	assert.True(t, done)

	done, err = repo.FinalizeCall(ctx, "sess-1", 42, time.Now())
	require.NoError(t, err)
	assert.False(t, done, "second finalize is a no-op")
}

func TestUpsertSmsThread_LoadsExistingID(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	thread := &model.SmsThread{TenantID: testTenantID, LinePhone: "+15550001111", Counterparty: "+15550002222"}

	mock.ExpectQuery(`INSERT INTO "sms_threads" .* ON CONFLICT \("tenant_id","line_phone","counterparty"\) DO UPDATE SET .* RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("thread-existing"))

	require.NoError(t, repo.UpsertSmsThread(ctx, thread))
	assert.Equal(t, "thread-existing", thread.ID)
}

func TestUpsertSmsMessage_SequenceGuard(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	msg := &model.SmsMessage{
		TenantID:           testTenantID,
		Provider:           testProvider,
		ProviderMessageSid: "SM123",
		Status:             "delivered",
		StatusSequence:     5,
	}

	mock.ExpectQuery(`INSERT INTO "sms_messages" .* ON CONFLICT \("provider","provider_message_sid"\) DO UPDATE SET ` +
		`"body"=COALESCE\(NULLIF\(sms_messages.body, ''\), excluded.body\),` +
		`"direction"=COALESCE\(NULLIF\(sms_messages.direction, ''\), excluded.direction\),` +
		`"error_code"=CASE WHEN sms_messages.status_sequence < excluded.status_sequence THEN excluded.error_code ELSE sms_messages.error_code END,.*` +
		`"status"=CASE WHEN sms_messages.status_sequence < excluded.status_sequence THEN excluded.status ELSE sms_messages.status END,` +
		`"status_sequence"=GREATEST\(sms_messages.status_sequence, excluded.status_sequence\),` +
		`"thread_id"=COALESCE\(NULLIF\(sms_messages.thread_id, ''\), excluded.thread_id\),.*` +
		`WHERE sms_messages.tenant_id = excluded.tenant_id RETURNING "id","updated_at"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-1"))
	mock.ExpectQuery(`INSERT INTO "sms_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow("msg-1", time.Now().Add(-time.Hour)))

	applied, err := repo.UpsertSmsMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "msg-1", msg.ID)

	applied, err = repo.UpsertSmsMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, applied, "a replay only fills blanks and leaves updated_at alone")
}

func TestSaveVoicemailAndAttach(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	vm := &model.Voicemail{TenantID: testTenantID, Provider: testProvider, RecordingSid: "RE1", ProviderCallID: "CA1"}

	mock.ExpectExec(`INSERT INTO "voicemails" .* ON CONFLICT \("provider","recording_sid"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "voicemails" SET "call_session_id"=\$1 WHERE tenant_id = \$2 AND provider = \$3 AND provider_call_id = \$4 AND call_session_id = \$5`).
		WithArgs("sess-1", testTenantID, testProvider, "CA1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.SaveVoicemail(ctx, vm)
	require.NoError(t, err)
	assert.True(t, created)

	n, err := repo.AttachVoicemails(ctx, testProvider, "CA1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIngestRepos_RejectCrossTenantWrites(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := tenant.WithTenantID(context.Background(), "tenant-a")

	_, err := repo.UpsertSmsMessage(ctx, &model.SmsMessage{TenantID: "tenant-b"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	_, err = repo.SaveVoicemail(ctx, &model.Voicemail{TenantID: "tenant-b"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	err = repo.UpsertSmsThread(ctx, &model.SmsThread{TenantID: "tenant-b"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}
