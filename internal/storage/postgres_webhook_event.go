package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

// RecordWebhookEventIfNew inserts the event unless (provider, provider_event_id) was already seen.
// It reports true only for the single caller whose insert landed.
func (r *PostgresRepo) RecordWebhookEventIfNew(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	metricTenant := tenant.Unattributed
	if tenantID, err := tenant.FromContext(ctx); err == nil {
		metricTenant = tenantID
		if event.TenantID == nil {
			event.TenantID = &tenantID
		}
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = utils.Now()
	}

	var isNew bool
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).Create(event)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		isNew = result.RowsAffected == 1
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "RecordWebhookEvent Commit", operation)
	observer.ObserveDbOperationDuration("insert_if_new", "webhook_event", metricTenant, time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to record webhook event",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Error(err))
		return false, err
	}
	return isNew, nil
}
