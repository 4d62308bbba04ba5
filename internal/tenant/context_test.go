package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantContext(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrTenantIDNotFound)

	ctx := WithTenantID(context.Background(), "tenant-a")
	got, err := FromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "tenant-a", got)
	assert.Equal(t, "tenant-a", MustFromContext(ctx))

	assert.Panics(t, func() { MustFromContext(context.Background()) })
}

func TestCorrelationAndRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "corr-1", CorrelationID(ctx))

	rid, err := FromRequestIDContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "req-1", rid)
}
