package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRegistry is a mock implementation of Registry using testify/mock.
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Create(ctx context.Context, rec Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRegistry) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Record), args.Error(1)
}

func (m *MockRegistry) List(ctx context.Context) ([]Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Record), args.Error(1)
}

func (m *MockRegistry) UpdateStatus(ctx context.Context, id uuid.UUID, tr Transition) (Record, error) {
	args := m.Called(ctx, id, tr)
	return args.Get(0).(Record), args.Error(1)
}

func (m *MockRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
