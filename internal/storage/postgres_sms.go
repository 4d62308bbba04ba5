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
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// UpsertSmsThread creates or touches the (line, counterparty) thread and loads its id into thread.ID.
func (r *PostgresRepo) UpsertSmsThread(ctx context.Context, thread *model.SmsThread) error {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return err
	}
	if thread.TenantID != tenantID {
		return fmt.Errorf("%w: thread TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, thread.TenantID, tenantID)
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.LastMessageAt.IsZero() {
		thread.LastMessageAt = utils.Now()
	}
	thread.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "tenant_id"}, {Name: "line_phone"}, {Name: "counterparty"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"last_message_at":  gorm.Expr("GREATEST(sms_threads.last_message_at, excluded.last_message_at)"),
					"business_line_id": gorm.Expr("COALESCE(NULLIF(excluded.business_line_id, ''), sms_threads.business_line_id)"),
					"updated_at":       gorm.Expr("excluded.updated_at"),
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "id"}}},
		).Create(thread)
		return checkConstraintViolation(result.Error)
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertSmsThread Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "sms_thread", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert sms thread",
			zap.String("line_phone", thread.LinePhone),
			zap.String("counterparty", thread.Counterparty),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpsertSmsMessage creates the message or advances its status when the incoming
// sequence is newer. Body, thread and direction fill in whatever the stored row
// lacks in any order, so a delivery receipt that lands before the send result
// still ends with the sent body. It reports whether the status changed.
func (r *PostgresRepo) UpsertSmsMessage(ctx context.Context, msg *model.SmsMessage) (bool, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return false, err
	}
	if msg.TenantID != tenantID {
		return false, fmt.Errorf("%w: message TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, msg.TenantID, tenantID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	stamp := statusStamp()

	var applied bool
	operation := func() error {
		msg.UpdatedAt = stamp
		result := r.db.WithContext(ctx).Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "provider"}, {Name: "provider_message_sid"}},
				Where:   sameTenant("sms_messages"),
				DoUpdates: clause.Assignments(map[string]interface{}{
					"status":          sequenced("sms_messages", "status"),
					"error_code":      sequenced("sms_messages", "error_code"),
					"status_sequence": gorm.Expr("GREATEST(sms_messages.status_sequence, excluded.status_sequence)"),
					"updated_at":      sequenced("sms_messages", "updated_at"),
					"body":            fillEmpty("sms_messages", "body"),
					"thread_id":       fillEmpty("sms_messages", "thread_id"),
					"direction":       fillEmpty("sms_messages", "direction"),
					"from_number":     fillEmpty("sms_messages", "from_number"),
					"to_number":       fillEmpty("sms_messages", "to_number"),
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "updated_at"}}},
		).Create(msg)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		applied = result.RowsAffected == 1 && msg.UpdatedAt.Equal(stamp)
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertSmsMessage Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "sms_message", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert sms message",
			zap.String("provider_message_sid", msg.ProviderMessageSid),
			zap.String("status", msg.Status),
			zap.Error(commitErr))
		return false, commitErr
	}
	return applied, nil
}
