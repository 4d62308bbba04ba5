package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/provider"
)

// ClientMock is a mock implementation of provider.Client
type ClientMock struct {
	mock.Mock
}

var _ provider.Client = (*ClientMock)(nil)

// SendSMS mocks the SendSMS method
func (m *ClientMock) SendSMS(ctx context.Context, req provider.SendSMSRequest) (*provider.SendSMSResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.SendSMSResult), args.Error(1)
}

// PlaceCall mocks the PlaceCall method
func (m *ClientMock) PlaceCall(ctx context.Context, req provider.PlaceCallRequest) (*provider.PlaceCallResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.PlaceCallResult), args.Error(1)
}

// ProvisionNumber mocks the ProvisionNumber method
func (m *ClientMock) ProvisionNumber(ctx context.Context, req provider.ProvisionNumberRequest) (*provider.ProvisionNumberResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ProvisionNumberResult), args.Error(1)
}

// ReleaseNumber mocks the ReleaseNumber method
func (m *ClientMock) ReleaseNumber(ctx context.Context, req provider.ReleaseNumberRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Name returns the provider key used by handler tests.
func (m *ClientMock) Name() string {
	return "twilio"
}
