package mock

import (
	"github.com/stretchr/testify/mock"
)

// MockFileOpener is a mock implementation of coordinator.FileOpener.
type MockFileOpener struct {
	mock.Mock
}

// Open mocks the Open method.
func (m *MockFileOpener) Open(path, mode string, token uint64) error {
	args := m.Called(path, mode, token)
	return args.Error(0)
}

// Close mocks the Close method.
func (m *MockFileOpener) Close(token uint64) error {
	args := m.Called(token)
	return args.Error(0)
}

// ExpectOpen sets up an expectation for Open on a path with any token.
func (m *MockFileOpener) ExpectOpen(path string, err error) *mock.Call {
	return m.On("Open", path, mock.Anything, mock.Anything).Return(err)
}

// ExpectClose sets up an expectation for Close with any token.
func (m *MockFileOpener) ExpectClose(err error) *mock.Call {
	return m.On("Close", mock.Anything).Return(err)
}
