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

// sequenced assigns column from the incoming row only when its status_sequence
// is newer, so replays and out-of-order callbacks converge on the same status.
func sequenced(table, column string) clause.Expr {
	return gorm.Expr(fmt.Sprintf(
		"CASE WHEN %[1]s.status_sequence < excluded.status_sequence THEN excluded.%[2]s ELSE %[1]s.%[2]s END",
		table, column))
}

// fillEmpty keeps the stored value and only fills a blank column.
func fillEmpty(table, column string) clause.Expr {
	return gorm.Expr(fmt.Sprintf("COALESCE(NULLIF(%[1]s.%[2]s, ''), excluded.%[2]s)", table, column))
}

// sameTenant stops an upsert from touching another tenant's row on a provider id collision.
func sameTenant(table string) clause.Where {
	return clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: table + ".tenant_id = excluded.tenant_id"},
	}}
}

// statusStamp is the updated_at written with an upsert. updated_at only moves
// when the status advances, so comparing the returned value with the stamp
// tells whether this write won. Postgres stores microseconds.
func statusStamp() time.Time {
	return utils.Now().Truncate(time.Microsecond)
}

// UpsertCallStatus creates the session or advances its status when the incoming
// sequence is newer. Timestamps, duration and line attribution merge regardless
// of order, so an in-progress callback arriving after completed still records
// started_at. It reports whether the status changed.
func (r *PostgresRepo) UpsertCallStatus(ctx context.Context, session *model.CallSession) (bool, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return false, err
	}
	if session.TenantID != tenantID {
		return false, fmt.Errorf("%w: call TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, session.TenantID, tenantID)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	stamp := statusStamp()

	var applied bool
	operation := func() error {
		session.UpdatedAt = stamp
		result := r.db.WithContext(ctx).Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "provider"}, {Name: "provider_call_id"}},
				Where:   sameTenant("call_sessions"),
				DoUpdates: clause.Assignments(map[string]interface{}{
					"status":           sequenced("call_sessions", "status"),
					"status_sequence":  gorm.Expr("GREATEST(call_sessions.status_sequence, excluded.status_sequence)"),
					"updated_at":       sequenced("call_sessions", "updated_at"),
					"business_line_id": fillEmpty("call_sessions", "business_line_id"),
					"direction":        fillEmpty("call_sessions", "direction"),
					"from_number":      fillEmpty("call_sessions", "from_number"),
					"to_number":        fillEmpty("call_sessions", "to_number"),
					"started_at":       gorm.Expr("LEAST(call_sessions.started_at, excluded.started_at)"),
					"ended_at":         gorm.Expr("COALESCE(call_sessions.ended_at, excluded.ended_at)"),
					"duration_seconds": gorm.Expr("GREATEST(call_sessions.duration_seconds, excluded.duration_seconds)"),
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "updated_at"}}},
		).Create(session)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		applied = result.RowsAffected == 1 && session.UpdatedAt.Equal(stamp)
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertCallStatus Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "call_session", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert call status",
			zap.String("provider_call_id", session.ProviderCallID),
			zap.String("status", session.Status),
			zap.Error(commitErr))
		return false, commitErr
	}
	return applied, nil
}

// FindCallByProviderID returns the tenant's session for a provider call id.
func (r *PostgresRepo) FindCallByProviderID(ctx context.Context, provider, providerCallID string) (*model.CallSession, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return nil, err
	}

	var session model.CallSession
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("tenant_id = ? AND provider = ? AND provider_call_id = ?", tenantID, provider, providerCallID).
			First(&session).Error)
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err = retryableOperation(ctx, readPolicy, "FindCallByProviderID", operation)
	observer.ObserveDbOperationDuration("find", "call_session", tenantID, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FinalizeCall stamps duration and end time once. It reports false when the session was already finalized.
func (r *PostgresRepo) FinalizeCall(ctx context.Context, sessionID string, durationSeconds int, endedAt time.Time) (bool, error) {
	tenantID, err := tenantScope(ctx)
	if err != nil {
		return false, err
	}

	var finalized bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CallSession{}).
			Where("id = ? AND tenant_id = ? AND finalized = ?", sessionID, tenantID, false).
			Updates(map[string]interface{}{
				"finalized":        true,
				"duration_seconds": gorm.Expr("GREATEST(duration_seconds, ?)", durationSeconds),
				"ended_at":         gorm.Expr("COALESCE(ended_at, ?)", endedAt),
				"updated_at":       utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		finalized = result.RowsAffected == 1
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "FinalizeCall Commit", operation)
	observer.ObserveDbOperationDuration("finalize", "call_session", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return false, commitErr
	}
	return finalized, nil
}
