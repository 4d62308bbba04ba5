package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// FindComplianceGate returns the gate for the tenant in ctx, or ErrNotFound when none was configured.
func (r *PostgresRepo) FindComplianceGate(ctx context.Context) (*model.ComplianceGate, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return nil, err
	}

	var gate model.ComplianceGate
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("tenant_id = ?", tenantID).
			First(&gate).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindComplianceGate", operation)
	observer.ObserveDbOperationDuration("find", "compliance_gate", tenantID, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &gate, nil
}

// SaveComplianceGate upserts the tenant's gate.
func (r *PostgresRepo) SaveComplianceGate(ctx context.Context, gate *model.ComplianceGate) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}
	if gate.TenantID != tenantID {
		return fmt.Errorf("%w: gate TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, gate.TenantID, tenantID)
	}
	gate.UpdatedAt = utils.Now()

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sms_enabled", "voice_enabled", "updated_at"}),
		}).Create(gate).Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveComplianceGate Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "compliance_gate", tenantID, time.Since(startTime), commitErr)
	return commitErr
}

// IsOptedOut reports whether phone opted out of channel for the tenant in ctx.
func (r *PostgresRepo) IsOptedOut(ctx context.Context, phone string, channel model.Channel) (bool, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return false, err
	}

	var count int64
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Model(&model.OptOut{}).
			Where("tenant_id = ? AND phone_number = ? AND channel = ?", tenantID, phone, channel).
			Count(&count).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "IsOptedOut", operation)
	observer.ObserveDbOperationDuration("count", "opt_out", tenantID, time.Since(startTime), err)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddOptOut records an opt-out; repeating it is a no-op.
func (r *PostgresRepo) AddOptOut(ctx context.Context, optOut *model.OptOut) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}
	if optOut.TenantID != tenantID {
		return fmt.Errorf("%w: opt-out TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, optOut.TenantID, tenantID)
	}
	if optOut.ID == "" {
		optOut.ID = uuid.NewString()
	}

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "phone_number"}, {Name: "channel"}},
			DoNothing: true,
		}).Create(optOut).Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AddOptOut Commit", operation)
	observer.ObserveDbOperationDuration("insert_if_new", "opt_out", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to add opt-out", zap.String("channel", string(optOut.Channel)), zap.Error(commitErr))
	}
	return commitErr
}

// RemoveOptOut deletes an opt-out; removing a missing one is a no-op.
func (r *PostgresRepo) RemoveOptOut(ctx context.Context, phone string, channel model.Channel) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("tenant_id = ? AND phone_number = ? AND channel = ?", tenantID, phone, channel).
			Delete(&model.OptOut{}).Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "RemoveOptOut Commit", operation)
	observer.ObserveDbOperationDuration("delete", "opt_out", tenantID, time.Since(startTime), commitErr)
	return commitErr
}
