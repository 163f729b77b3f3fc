package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sfs-coordinator/internal/journal"
)

// MockEventRepository is a mock implementation of journal.EventRepository.
type MockEventRepository struct {
	mock.Mock
}

// RecordEvent mocks the RecordEvent method.
func (m *MockEventRepository) RecordEvent(ctx context.Context, ev *journal.LockEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// ListEvents mocks the ListEvents method.
func (m *MockEventRepository) ListEvents(ctx context.Context, regionKey int, limit int) ([]journal.LockEvent, error) {
	args := m.Called(ctx, regionKey, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]journal.LockEvent), args.Error(1)
}

// CountByEvent mocks the CountByEvent method.
func (m *MockEventRepository) CountByEvent(ctx context.Context, regionKey int) (map[string]int64, error) {
	args := m.Called(ctx, regionKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// PurgeBefore mocks the PurgeBefore method.
func (m *MockEventRepository) PurgeBefore(ctx context.Context, regionKey int, beforeID int64) (int64, error) {
	args := m.Called(ctx, regionKey, beforeID)
	return args.Get(0).(int64), args.Error(1)
}

// ExpectRecordEvent sets up an expectation for RecordEvent with any event.
func (m *MockEventRepository) ExpectRecordEvent(err error) *mock.Call {
	return m.On("RecordEvent", mock.Anything, mock.Anything).Return(err)
}
