package services

import "errors"

// Service layer errors
var (
	// Batch errors
	ErrNoBatchLoaded = errors.New("no batch loaded")
	ErrBatchNotFound = errors.New("batch not found")

	// Run errors
	ErrNoRunsFound = errors.New("no runs found")
	ErrRunNotFound = errors.New("run not found")

	// Report and export errors
	ErrNoReportsFound  = errors.New("no reports found")
	ErrFileNotFound    = errors.New("file not found")
	ErrInvalidFileType = errors.New("invalid file type")

	// operation errors
	ErrOperationNotFound   = errors.New("operation not found")
	ErrOperationRunning    = errors.New("operation already running")
	ErrOperationNotRunning = errors.New("operation not running")
	ErrInvalidStage        = errors.New("invalid operation step")

	// WebSocket errors
	ErrWebSocketUpgrade = errors.New("websocket upgrade failed")
	ErrWebSocketClosed  = errors.New("websocket connection closed")

	// General errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrOperationTimeout   = errors.New("operation timed out")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
