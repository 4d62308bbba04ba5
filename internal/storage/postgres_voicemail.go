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

// SaveVoicemail stores a recording once per (provider, recording_sid). It reports whether a row was created.
func (r *PostgresRepo) SaveVoicemail(ctx context.Context, vm *model.Voicemail) (bool, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return false, err
	}
	if vm.TenantID != tenantID {
		return false, fmt.Errorf("%w: voicemail TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, vm.TenantID, tenantID)
	}
	if vm.ID == "" {
		vm.ID = uuid.NewString()
	}

	var created bool
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "recording_sid"}},
			DoNothing: true,
		}).Create(vm)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		created = result.RowsAffected == 1
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveVoicemail Commit", operation)
	observer.ObserveDbOperationDuration("insert_if_new", "voicemail", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save voicemail", zap.String("recording_sid", vm.RecordingSid), zap.Error(commitErr))
		return false, commitErr
	}
	return created, nil
}

// AttachVoicemails links recordings that arrived before their call session existed.
func (r *PostgresRepo) AttachVoicemails(ctx context.Context, provider, providerCallID, sessionID string) (int64, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return 0, err
	}

	var attached int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Voicemail{}).
			Where("tenant_id = ? AND provider = ? AND provider_call_id = ? AND call_session_id = ?", tenantID, provider, providerCallID, "").
			Update("call_session_id", sessionID)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		attached = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AttachVoicemails Commit", operation)
	observer.ObserveDbOperationDuration("attach", "voicemail", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return 0, commitErr
	}
	return attached, nil
}
