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

// UpsertProviderResource records a provider-side resource keyed by (provider, provider_resource_id).
// A conflicting row owned by another tenant is left untouched.
func (r *PostgresRepo) UpsertProviderResource(ctx context.Context, res *model.ProviderResource) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}
	if res.TenantID != tenantID {
		return fmt.Errorf("%w: resource TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, res.TenantID, tenantID)
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_resource_id"}},
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "provider_resources.tenant_id = excluded.tenant_id"},
			}},
			DoUpdates: clause.AssignmentColumns(model.ProviderResourceUpdatableFields()),
		}).Create(res)
		return checkConstraintViolation(result.Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertProviderResource Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "provider_resource", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert provider resource",
			zap.String("provider_resource_id", res.ProviderResourceID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindActiveResourceByLine returns the active resource bound to lineID.
func (r *PostgresRepo) FindActiveResourceByLine(ctx context.Context, lineID string) (*model.ProviderResource, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return nil, err
	}

	var res model.ProviderResource
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("tenant_id = ? AND business_line_id = ? AND status = ?", tenantID, lineID, model.ResourceStatusActive).
			First(&res).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindActiveResourceByLine", operation)
	observer.ObserveDbOperationDuration("find", "provider_resource", tenantID, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// MarkResourceReleased flips an active resource to released.
func (r *PostgresRepo) MarkResourceReleased(ctx context.Context, resourceID string) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}

	operation := func() error {
		now := utils.Now()
		result := r.db.WithContext(ctx).Model(&model.ProviderResource{}).
			Where("id = ? AND tenant_id = ? AND status = ?", resourceID, tenantID, model.ResourceStatusActive).
			Updates(map[string]interface{}{
				"status":      model.ResourceStatusReleased,
				"released_at": now,
				"updated_at":  now,
			})
		return checkConstraintViolation(result.Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkResourceReleased Commit", operation)
	observer.ObserveDbOperationDuration("release", "provider_resource", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to release provider resource", zap.String("resource_id", resourceID), zap.Error(commitErr))
		return commitErr
	}
	return nil
}
