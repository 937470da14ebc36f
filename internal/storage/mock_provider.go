package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// Write is the mock implementation of the Write method.
func (m *MockProvider) Write(ctx context.Context, domain, path string, content []byte) error {
	args := m.Called(ctx, domain, path, content)
	return args.Error(0) //nolint:wrapcheck
}

// Exists is the mock implementation of the Exists method.
func (m *MockProvider) Exists(ctx context.Context, domain, path string) (bool, error) {
	args := m.Called(ctx, domain, path)
	return args.Bool(0), args.Error(1) //nolint:wrapcheck
}

// Read is the mock implementation of the Read method.
func (m *MockProvider) Read(ctx context.Context, domain, path string) ([]byte, error) {
	args := m.Called(ctx, domain, path)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
