package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// MockProxy is a mock implementation of the client.Proxy interface
type MockProxy struct {
	mock.Mock
}

var _ client.Proxy = (*MockProxy)(nil)

// ID returns the client identifier
func (m *MockProxy) ID() string {
	args := m.Called()
	return args.String(0)
}

// Properties returns the properties announced at join time
func (m *MockProxy) Properties() map[string]string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]string)
}

// GetParameters asks the client for its current model parameters
func (m *MockProxy) GetParameters(ctx context.Context, timeout time.Duration) (model.Parameters, error) {
	args := m.Called(ctx, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Parameters), args.Error(1)
}

// Fit runs a training round on the client
func (m *MockProxy) Fit(ctx context.Context, ins client.FitIns, timeout time.Duration) (client.FitRes, error) {
	args := m.Called(ctx, ins, timeout)
	return args.Get(0).(client.FitRes), args.Error(1)
}

// Evaluate runs an evaluation round on the client
func (m *MockProxy) Evaluate(ctx context.Context, ins client.EvaluateIns, timeout time.Duration) (client.EvaluateRes, error) {
	args := m.Called(ctx, ins, timeout)
	return args.Get(0).(client.EvaluateRes), args.Error(1)
}
