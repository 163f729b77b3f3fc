// Package mock provides testify mocks for the service's collaborator
// interfaces.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sfs-coordinator/internal/graph"
)

// MockArchive is a mock implementation of the storage.Archive interface.
type MockArchive struct {
	mock.Mock
}

// Save mocks the Save method.
func (m *MockArchive) Save(ctx context.Context, key string, snap *graph.Snapshot) error {
	args := m.Called(ctx, key, snap)
	return args.Error(0)
}

// Load mocks the Load method.
func (m *MockArchive) Load(ctx context.Context, key string) (*graph.Snapshot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*graph.Snapshot), args.Error(1)
}

// List mocks the List method.
func (m *MockArchive) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Delete mocks the Delete method.
func (m *MockArchive) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// ExpectSave sets up an expectation for Save with any snapshot.
func (m *MockArchive) ExpectSave(err error) *mock.Call {
	return m.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(err)
}
