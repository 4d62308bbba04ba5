package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
)

var outboxColumns = []string{"id", "tenant_id", "job_type", "idempotency_key", "payload", "status", "attempts", "next_attempt_at"}

func TestEnqueueJob_Created(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	job := model.NewOutboxJob(model.JobActionSendSms, &model.OutboxJob{TenantID: testTenantID})

	mock.ExpectExec(`INSERT INTO "outbox_jobs" .* ON CONFLICT \("tenant_id","job_type","idempotency_key"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, created, err := repo.EnqueueJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, job.ID, id)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestEnqueueJob_ExistingKeyReturnsOriginalID(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	job := model.NewOutboxJob(model.JobActionSendSms, &model.OutboxJob{TenantID: testTenantID, IdempotencyKey: "req-1"})

	mock.ExpectExec(`INSERT INTO "outbox_jobs"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "id" FROM "outbox_jobs" WHERE tenant_id = \$1 AND job_type = \$2 AND idempotency_key = \$3`).
		WithArgs(testTenantID, model.JobActionSendSms, "req-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("original-job"))

	id, created, err := repo.EnqueueJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "original-job", id)
}

func TestEnqueueJob_TenantMismatch(t *testing.T) {
	repo, _, ctx := newTestRepo(t)
	job := model.NewOutboxJob(model.JobActionSendSms, &model.OutboxJob{TenantID: "someone-else"})

	_, _, err := repo.EnqueueJob(ctx, job)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestEnqueueJob_TransientErrorIsRetried(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	job := model.NewOutboxJob(model.JobIngestSmsStatus, &model.OutboxJob{TenantID: testTenantID})

	mock.ExpectExec(`INSERT INTO "outbox_jobs"`).
		WillReturnError(errors.New("read tcp: connection reset by peer"))
	mock.ExpectExec(`INSERT INTO "outbox_jobs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, created, err := repo.EnqueueJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestClaimBatch_SkipsLockedRowsAndMarksClaimed(t *testing.T) {
	repo, mock, _ := newTestRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "outbox_jobs" WHERE status = \$1 AND next_attempt_at <= \$2 ORDER BY next_attempt_at LIMIT \$3 FOR UPDATE SKIP LOCKED`).
		WithArgs(model.JobStatusPending, AnyTime{}, 5).
		WillReturnRows(sqlmock.NewRows(outboxColumns).
			AddRow("job-1", "tenant-a", model.JobIngestCallStatus, "k1", []byte(`{}`), model.JobStatusPending, 0, now).
			AddRow("job-2", "tenant-b", model.JobActionSendSms, "k2", []byte(`{}`), model.JobStatusPending, 2, now))
	mock.ExpectExec(`UPDATE "outbox_jobs" SET .*"claimed_by"=\$\d+.* WHERE id IN \(\$\d+,\$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	jobs, err := repo.ClaimBatch(context.Background(), "worker-1", 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, model.JobStatusClaimed, j.Status)
		assert.Equal(t, "worker-1", j.ClaimedBy)
		assert.NotNil(t, j.ClaimedAt)
	}
	assert.Equal(t, "tenant-b", jobs[1].TenantID)
}

func TestClaimBatch_NothingDue(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(outboxColumns))
	mock.ExpectCommit()

	jobs, err := repo.ClaimBatch(context.Background(), "worker-1", 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestClaimBatch_ZeroLimit(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	jobs, err := repo.ClaimBatch(context.Background(), "worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, jobs)
}

func TestClaimBatch_QueryErrorRollsBack(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	_, err := repo.ClaimBatch(context.Background(), "worker-1", 5)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
}

func TestCompleteJob(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectExec(`UPDATE "outbox_jobs" SET "completed_at"=\$1,"last_error"=\$2,"status"=\$3,"updated_at"=\$4 WHERE id = \$5 AND status IN \(\$6,\$7\)`).
		WithArgs(AnyTime{}, "", model.JobStatusCompleted, AnyTime{}, "job-1", model.JobStatusClaimed, model.JobStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.CompleteJob(context.Background(), "job-1"))
}

func TestFailJob_BumpsAttemptsAndReschedules(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectExec(`UPDATE "outbox_jobs" SET "attempts"=attempts \+ 1,.*"next_attempt_at"=\$\d+,"status"=\$\d+.* WHERE id = \$\d+ AND status IN \(\$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.FailJob(context.Background(), "job-1", "provider timeout", 20*time.Second))
}

func TestFailJobTerminal(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectExec(`UPDATE "outbox_jobs" SET .*"status"=\$\d+.* WHERE id = \$\d+ AND status IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.FailJobTerminal(context.Background(), "job-1", "blocked: opted out"))
}

func TestTransitionJob_NoRowsIsNotAnError(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectExec(`UPDATE "outbox_jobs"`).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.CompleteJob(context.Background(), "job-gone"))
}

func TestReleaseStaleClaims(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectExec(`UPDATE "outbox_jobs" SET .* WHERE status = \$\d+ AND claimed_at < \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ReleaseStaleClaims(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFindJobByID(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "outbox_jobs" WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs("job-1", testTenantID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(outboxColumns).
			AddRow("job-1", testTenantID, model.JobActionPlaceCall, "k", []byte(`{}`), model.JobStatusCompleted, 1, time.Now()))

	job, err := repo.FindJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
}

func TestFindJobByID_OtherTenantIsNotFound(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "outbox_jobs" WHERE id = \$1 AND tenant_id = \$2`).
		WillReturnRows(sqlmock.NewRows(outboxColumns))

	_, err := repo.FindJobByID(ctx, "job-of-tenant-b")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
