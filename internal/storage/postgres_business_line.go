package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// FindLineByPhoneUnscoped looks a live line up by its bound phone number across all tenants.
// This is the only unscoped read in the service; it exists to attribute inbound webhooks.
func (r *PostgresRepo) FindLineByPhoneUnscoped(ctx context.Context, phone string) (*model.BusinessLine, error) {
	if phone == "" {
		return nil, fmt.Errorf("%w: empty phone number", apperrors.ErrNotFound)
	}

	var line model.BusinessLine
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("phone_number = ? AND status <> ?", phone, model.LineStatusReleased).
			First(&line).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindLineByPhoneUnscoped", operation)
	observer.ObserveDbOperationDuration("find_unscoped", "business_line", tenant.Unattributed, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// SaveBusinessLine upserts a line owned by the tenant in ctx.
func (r *PostgresRepo) SaveBusinessLine(ctx context.Context, line *model.BusinessLine) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}
	if line.TenantID != tenantID {
		return fmt.Errorf("%w: line TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, line.TenantID, tenantID)
	}
	line.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "business_lines.tenant_id = excluded.tenant_id"},
			}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_office_id", "line_mode", "phone_number", "setup_complete", "status", "updated_at"}),
		}).Create(line)
		return checkConstraintViolation(result.Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveBusinessLine Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "business_line", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save business line", zap.String("line_id", line.ID), zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindBusinessLineByID returns a line owned by the tenant in ctx.
func (r *PostgresRepo) FindBusinessLineByID(ctx context.Context, lineID string) (*model.BusinessLine, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return nil, err
	}

	var line model.BusinessLine
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("id = ? AND tenant_id = ?", lineID, tenantID).
			First(&line).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindBusinessLineByID", operation)
	observer.ObserveDbOperationDuration("find", "business_line", tenantID, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// BindLineNumber attaches a provisioned number to the line and marks setup complete.
func (r *PostgresRepo) BindLineNumber(ctx context.Context, lineID, phone string) error {
	return r.updateLine(ctx, "bind_number", lineID, map[string]interface{}{
		"phone_number":   phone,
		"setup_complete": true,
		"status":         model.LineStatusActive,
		"updated_at":     utils.Now(),
	})
}

// MarkLineReleased clears the line's number. Lines are never hard-deleted.
func (r *PostgresRepo) MarkLineReleased(ctx context.Context, lineID string) error {
	return r.updateLine(ctx, "release_number", lineID, map[string]interface{}{
		"phone_number":   "",
		"setup_complete": false,
		"status":         model.LineStatusReleased,
		"updated_at":     utils.Now(),
	})
}

func (r *PostgresRepo) updateLine(ctx context.Context, op, lineID string, updates map[string]interface{}) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.BusinessLine{}).
			Where("id = ? AND tenant_id = ?", lineID, tenantID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: business line %s", apperrors.ErrNotFound, lineID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "BusinessLine "+op, operation)
	observer.ObserveDbOperationDuration(op, "business_line", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update business line", zap.String("op", op), zap.String("line_id", lineID), zap.Error(commitErr))
		return commitErr
	}
	return nil
}
