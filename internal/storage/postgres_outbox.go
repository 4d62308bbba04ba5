package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// EnqueueJob inserts job unless (tenant_id, job_type, idempotency_key) already exists.
// It returns the id of the stored job and whether this call created it.
func (r *PostgresRepo) EnqueueJob(ctx context.Context, job *model.OutboxJob) (string, bool, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return "", false, err
	}
	if job.TenantID != tenantID {
		return "", false, fmt.Errorf("%w: job TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, job.TenantID, tenantID)
	}
	if job.IdempotencyKey == "" {
		return "", false, fmt.Errorf("%w: idempotency key is required", apperrors.ErrBadRequest)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = model.JobStatusPending
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = utils.Now()
	}
	if job.CorrelationID == "" {
		job.CorrelationID = tenant.CorrelationID(ctx)
	}

	var (
		jobID   string
		created bool
	)
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "job_type"},
				{Name: "idempotency_key"},
			},
			DoNothing: true,
		}).Create(job)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 1 {
			jobID, created = job.ID, true
			return nil
		}

		var existing model.OutboxJob
		if err := r.db.WithContext(ctx).
			Select("id").
			Where("tenant_id = ? AND job_type = ? AND idempotency_key = ?", tenantID, job.JobType, job.IdempotencyKey).
			Take(&existing).Error; err != nil {
			return checkConstraintViolation(err)
		}
		jobID, created = existing.ID, false
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "EnqueueJob Commit", operation)
	observer.ObserveDbOperationDuration("enqueue", "outbox_job", tenantID, time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to enqueue job after retries",
			zap.String("job_type", string(job.JobType)),
			zap.String("idempotency_key", job.IdempotencyKey),
			zap.Error(commitErr))
		return "", false, commitErr
	}

	if !created {
		logger.FromContext(ctx).Debug("Job already enqueued",
			zap.String("job_id", jobID),
			zap.String("job_type", string(job.JobType)))
	}
	return jobID, created, nil
}

// ClaimBatch atomically moves up to limit due pending jobs to claimed for workerID.
// Rows locked by a concurrent claimer are skipped, so no job is handed to two workers.
// It is a worker operation and spans all tenants.
func (r *PostgresRepo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]model.OutboxJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []model.OutboxJob
	operation := func() error {
		claimed = nil
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := utils.Now()

			var jobs []model.OutboxJob
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("status = ? AND next_attempt_at <= ?", model.JobStatusPending, now).
				Order("next_attempt_at").
				Limit(limit).
				Find(&jobs).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if len(jobs) == 0 {
				return nil
			}

			ids := make([]string, 0, len(jobs))
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}

			if err := tx.Model(&model.OutboxJob{}).
				Where("id IN ?", ids).
				Updates(map[string]interface{}{
					"status":     model.JobStatusClaimed,
					"claimed_by": workerID,
					"claimed_at": now,
					"updated_at": now,
				}).Error; err != nil {
				return checkConstraintViolation(err)
			}

			for i := range jobs {
				jobs[i].Status = model.JobStatusClaimed
				jobs[i].ClaimedBy = workerID
				jobs[i].ClaimedAt = &now
			}
			claimed = jobs
			return nil
		})
	}

	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "ClaimBatch", operation)
	observer.ObserveDbOperationDuration("claim", "outbox_job", tenant.Unattributed, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteJob marks a job completed. A job already finished elsewhere is left untouched.
func (r *PostgresRepo) CompleteJob(ctx context.Context, jobID string) error {
	now := utils.Now()
	return r.transitionJob(ctx, "complete", jobID, []model.JobStatus{model.JobStatusClaimed, model.JobStatusPending}, map[string]interface{}{
		"status":       model.JobStatusCompleted,
		"completed_at": now,
		"last_error":   "",
		"updated_at":   now,
	})
}

// FailJob returns a claimed job to pending, bumping attempts and delaying the next claim by retryIn.
func (r *PostgresRepo) FailJob(ctx context.Context, jobID, errMsg string, retryIn time.Duration) error {
	now := utils.Now()
	return r.transitionJob(ctx, "fail", jobID, []model.JobStatus{model.JobStatusClaimed}, map[string]interface{}{
		"status":          model.JobStatusPending,
		"attempts":        gorm.Expr("attempts + 1"),
		"next_attempt_at": now.Add(retryIn),
		"last_error":      errMsg,
		"claimed_by":      "",
		"claimed_at":      nil,
		"updated_at":      now,
	})
}

// FailJobTerminal moves a job to failed. Reserved for policy and fatal outcomes.
func (r *PostgresRepo) FailJobTerminal(ctx context.Context, jobID, errMsg string) error {
	now := utils.Now()
	return r.transitionJob(ctx, "fail_terminal", jobID, []model.JobStatus{model.JobStatusClaimed, model.JobStatusPending}, map[string]interface{}{
		"status":       model.JobStatusFailed,
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   errMsg,
		"completed_at": now,
		"updated_at":   now,
	})
}

func (r *PostgresRepo) transitionJob(ctx context.Context, op, jobID string, from []model.JobStatus, updates map[string]interface{}) error {
	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.OutboxJob{}).
			Where("id = ? AND status IN ?", jobID, from).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		affected = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "OutboxJob "+op, operation)
	observer.ObserveDbOperationDuration(op, "outbox_job", tenant.Unattributed, time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to transition job", zap.String("op", op), zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	if affected == 0 {
		logger.FromContext(ctx).Warn("Job transition matched no rows; job was released or finished elsewhere",
			zap.String("op", op), zap.String("job_id", jobID))
	}
	return nil
}

// ReleaseStaleClaims returns jobs claimed longer than olderThan to pending so another worker can take them.
func (r *PostgresRepo) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	var released int64
	operation := func() error {
		now := utils.Now()
		result := r.db.WithContext(ctx).Model(&model.OutboxJob{}).
			Where("status = ? AND claimed_at < ?", model.JobStatusClaimed, now.Add(-olderThan)).
			Updates(map[string]interface{}{
				"status":     model.JobStatusPending,
				"claimed_by": "",
				"claimed_at": nil,
				"updated_at": now,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		released = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "ReleaseStaleClaims", operation)
	observer.ObserveDbOperationDuration("release_stale", "outbox_job", tenant.Unattributed, time.Since(startTime), err)
	if err != nil {
		return 0, err
	}
	return released, nil
}

// FindJobByID returns a job owned by the tenant in ctx.
func (r *PostgresRepo) FindJobByID(ctx context.Context, jobID string) (*model.OutboxJob, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return nil, err
	}

	var job model.OutboxJob
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("id = ? AND tenant_id = ?", jobID, tenantID).
			First(&job).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindJobByID", operation)
	observer.ObserveDbOperationDuration("find", "outbox_job", tenantID, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
