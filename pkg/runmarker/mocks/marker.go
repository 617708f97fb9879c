package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/walletkit/history-migrator/pkg/runmarker"
)

var _ runmarker.Marker = (*MockMarker)(nil)

// MockMarker is a mock implementation of runmarker.Marker
type MockMarker struct {
	mock.Mock
}

func (m *MockMarker) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMarker) IsCompleted(ctx context.Context, generation string) (bool, error) {
	args := m.Called(ctx, generation)
	return args.Bool(0), args.Error(1)
}

func (m *MockMarker) MarkCompleted(ctx context.Context, generation string, migrated int) error {
	args := m.Called(ctx, generation, migrated)
	return args.Error(0)
}

func (m *MockMarker) Clear(ctx context.Context, generation string) error {
	args := m.Called(ctx, generation)
	return args.Error(0)
}
