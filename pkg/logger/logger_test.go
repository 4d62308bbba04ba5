package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
)

func TestFromContext_AddsScopeFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	original := Log
	Log = zap.New(core)
	defer func() { Log = original }()

	ctx := tenant.WithTenantID(context.Background(), "tenant-a")
	ctx = tenant.WithCorrelationID(ctx, "corr-1")
	ctx = tenant.WithRequestID(ctx, "req-1")

	FromContext(ctx).Info("hello")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "tenant-a", fields["tenant_id"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestFromContext_NilGlobalIsSafe(t *testing.T) {
	original := Log
	Log = nil
	defer func() { Log = original }()

	assert.NotPanics(t, func() {
		FromContext(context.Background()).Info("dropped")
	})
}

func TestInitialize_InvalidLevelFallsBackToInfo(t *testing.T) {
	original := Log
	defer func() { Log = original }()

	assert.NoError(t, Initialize("not-a-level"))
	assert.NotNil(t, Log)
	assert.False(t, Log.Core().Enabled(zap.DebugLevel))
	assert.True(t, Log.Core().Enabled(zap.InfoLevel))
}
