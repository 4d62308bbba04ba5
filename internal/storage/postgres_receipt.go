package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// SaveReceipt appends a receipt. Receipts are never updated.
func (r *PostgresRepo) SaveReceipt(ctx context.Context, receipt *model.ActionReceipt) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}
	if receipt.TenantID != tenantID {
		return fmt.Errorf("%w: receipt TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, receipt.TenantID, tenantID)
	}
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(receipt).Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveReceipt Commit", operation)
	observer.ObserveDbOperationDuration("insert", "action_receipt", tenantID, time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save receipt after retries",
			zap.String("action_type", receipt.ActionType),
			zap.String("outcome", string(receipt.Outcome)),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
