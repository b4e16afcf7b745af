package operations

// WebSocketHub interface for sending WebSocket messages
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// ProgressReporter interface for steps that can report progress
type ProgressReporter interface {
	ReportProgress(progress int, message string) error
}

// StepOptions contains optional dependencies for steps
type StepOptions struct {
	WebSocketManager  WebSocketHub
	EnableProgress    bool
	StatusBroadcaster *StatusBroadcaster
}
