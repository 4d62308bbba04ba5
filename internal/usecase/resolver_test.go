package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage/mock"
)

type mapLineCache struct {
	mu    sync.Mutex
	lines map[string]*model.BusinessLine
}

func (c *mapLineCache) Get(_ context.Context, phone string) (*model.BusinessLine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[phone]
	return l, ok
}

func (c *mapLineCache) Set(_ context.Context, line *model.BusinessLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[line.PhoneNumber] = line
}

func (c *mapLineCache) Invalidate(_ context.Context, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, phone)
}

func TestResolve_ReadThroughCache(t *testing.T) {
	useTestLogger(t)
	line := model.NewBusinessLine(nil)
	directory := new(storagemock.LineDirectoryMock)
	directory.On("FindLineByPhoneUnscoped", mock.Anything, line.PhoneNumber).Return(line, nil).Once()
	cache := &mapLineCache{lines: map[string]*model.BusinessLine{}}
	resolver := NewTenantResolver(directory, cache)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := resolver.Resolve(ctx, " "+line.PhoneNumber+" ")
		require.NoError(t, err)
		assert.Equal(t, line.TenantID, got.TenantID)
		assert.Equal(t, line.ID, got.Line.ID)
	}
	directory.AssertNumberOfCalls(t, "FindLineByPhoneUnscoped", 1)

	resolver.Forget(ctx, line.PhoneNumber)
	directory.On("FindLineByPhoneUnscoped", mock.Anything, line.PhoneNumber).Return(line, nil).Once()
	_, err := resolver.Resolve(ctx, line.PhoneNumber)
	require.NoError(t, err)
	directory.AssertNumberOfCalls(t, "FindLineByPhoneUnscoped", 2)
}

func TestResolve_UnknownIsNeverCached(t *testing.T) {
	useTestLogger(t)
	directory := new(storagemock.LineDirectoryMock)
	directory.On("FindLineByPhoneUnscoped", mock.Anything, "+15550009999").Return(nil, apperrors.ErrNotFound)
	cache := &mapLineCache{lines: map[string]*model.BusinessLine{}}
	resolver := NewTenantResolver(directory, cache)

	for i := 0; i < 2; i++ {
		_, err := resolver.Resolve(context.Background(), "+15550009999")
		assert.True(t, apperrors.IsUnknownTenant(err))
	}
	directory.AssertNumberOfCalls(t, "FindLineByPhoneUnscoped", 2)
	assert.Empty(t, cache.lines)
}

func TestResolve_Errors(t *testing.T) {
	useTestLogger(t)
	directory := new(storagemock.LineDirectoryMock)
	directory.On("FindLineByPhoneUnscoped", mock.Anything, "+15550000001").Return(&model.BusinessLine{PhoneNumber: "+15550000001"}, nil)
	directory.On("FindLineByPhoneUnscoped", mock.Anything, "+15550000002").Return(nil, apperrors.ErrDatabase)
	resolver := NewTenantResolver(directory, nil)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "  ")
	assert.True(t, apperrors.IsUnknownTenant(err))

	_, err = resolver.Resolve(ctx, "+15550000001")
	assert.True(t, apperrors.IsUnknownTenant(err), "a line without a tenant is not attributable")

	_, err = resolver.Resolve(ctx, "+15550000002")
	assert.True(t, errors.Is(err, apperrors.ErrDatabase))
	assert.False(t, apperrors.IsUnknownTenant(err))

	assert.NotPanics(t, func() { resolver.Forget(ctx, "+15550000001") })
}
