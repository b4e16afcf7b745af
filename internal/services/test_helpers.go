package services

import (
	"github.com/stretchr/testify/mock"

	"imfcscli/pkg/contracts/events"
)

// MockWebSocketHub is a mock for WebSocketHub interface
type MockWebSocketHub struct {
	mock.Mock
}

func (m *MockWebSocketHub) Broadcast(messageType string, data interface{}) {
	m.Called(messageType, data)
}

func (m *MockWebSocketHub) BroadcastSnapshot(snapshot events.OperationSnapshot, traceID string) {
	m.Called(snapshot, traceID)
}

func (m *MockWebSocketHub) BroadcastBatchProgress(progress events.BatchProgress) {
	m.Called(progress)
}
