package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

// LineCache is the read-through cache consulted before the line directory.
type LineCache interface {
	Get(ctx context.Context, phone string) (*model.BusinessLine, bool)
	Set(ctx context.Context, line *model.BusinessLine)
	Invalidate(ctx context.Context, phone string)
}

// TenantLine is the attribution of a provider number.
type TenantLine struct {
	TenantID string
	Line     *model.BusinessLine
}

// TenantResolver maps a destination number to its owning tenant.
type TenantResolver struct {
	directory storage.LineDirectory
	cache     LineCache
}

// NewTenantResolver creates a resolver. cache may be nil.
func NewTenantResolver(directory storage.LineDirectory, cache LineCache) *TenantResolver {
	return &TenantResolver{directory: directory, cache: cache}
}

// Resolve returns ErrUnknownTenant when no line owns phone. A not-found is never
// attributed to a default tenant.
func (r *TenantResolver) Resolve(ctx context.Context, phone string) (TenantLine, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return TenantLine{}, fmt.Errorf("%w: empty destination", apperrors.ErrUnknownTenant)
	}

	if r.cache != nil {
		if line, ok := r.cache.Get(ctx, phone); ok && line.TenantID != "" {
			return TenantLine{TenantID: line.TenantID, Line: line}, nil
		}
	}

	line, err := r.directory.FindLineByPhoneUnscoped(ctx, phone)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Info("No business line owns destination", zap.String("destination", phone))
			return TenantLine{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownTenant, phone)
		}
		return TenantLine{}, fmt.Errorf("failed to resolve destination %s: %w", phone, err)
	}
	if line == nil || line.TenantID == "" {
		return TenantLine{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownTenant, phone)
	}

	if r.cache != nil {
		r.cache.Set(ctx, line)
	}
	return TenantLine{TenantID: line.TenantID, Line: line}, nil
}

// Forget drops any cached attribution for phone.
func (r *TenantResolver) Forget(ctx context.Context, phone string) {
	if r != nil && r.cache != nil && phone != "" {
		r.cache.Invalidate(ctx, phone)
	}
}
