package domain

import (
	"time"
)

// Operation represents one pipeline execution over a batch directory,
// composed of dependency-ordered steps.
type Operation struct {
	ID          string                 `json:"id" validate:"required,uuid"`
	Name        string                 `json:"name" validate:"required,min=3,max=100"`
	Type        OperationType          `json:"type" validate:"required,oneof=screening calibration indexing report"`
	Status      OperationStatus        `json:"status"`
	Config      OperationConfig        `json:"config"`
	Steps       []Step                 `json:"steps"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// OperationType defines the kind of pipeline an operation runs.
type OperationType string

const (
	OperationTypeScreening   OperationType = "screening"
	OperationTypeCalibration OperationType = "calibration"
	OperationTypeIndexing    OperationType = "indexing"
	OperationTypeReport      OperationType = "report"
)

// OperationStatus represents the status of an operation.
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
	OperationStatusCancelled OperationStatus = "cancelled"
)

// OperationConfig carries the run parameters of an operation.
type OperationConfig struct {
	Directory     string `json:"directory" validate:"required"`
	Mode          string `json:"mode" validate:"required,oneof=initial accumulative full"`
	MaxWorkers    int    `json:"max_workers" validate:"min=1,max=64"`
	Timeout       int    `json:"timeout" validate:"min=0"` // seconds, 0 means no limit
	Parallel      bool   `json:"parallel"`
	Resume        bool   `json:"resume"`
	Rules         *Rules `json:"rules,omitempty"`
	RSDThreshold  float64 `json:"rsd_threshold,omitempty" validate:"omitempty,gt=0"`
	ErrorHandling string `json:"error_handling" validate:"omitempty,oneof=stop continue"`
}

// Step represents one stage of an operation.
type Step struct {
	ID           string         `json:"id" validate:"required"`
	Name         string         `json:"name" validate:"required"`
	Type         StepType       `json:"type" validate:"required"`
	Status       StepStatus     `json:"status"`
	Dependencies []string       `json:"dependencies,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Duration     *time.Duration `json:"duration,omitempty"`
	State        StepState      `json:"state,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// StepType defines the stage kinds of the processing pipeline.
type StepType string

const (
	StepTypeDiscover StepType = "discover"
	StepTypeLoad     StepType = "load"
	StepTypeMetrics  StepType = "metrics"
	StepTypeScreen   StepType = "screen"
	StepTypeExport   StepType = "export"
	StepTypeReport   StepType = "report"
)

// StepStatus represents the status of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepState represents the mutable progress of a step.
type StepState struct {
	Progress       float64 `json:"progress"` // 0-100
	CurrentItem    string  `json:"current_item,omitempty"`
	ItemsProcessed int64   `json:"items_processed"`
	ItemsTotal     int64   `json:"items_total,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
}

// ProgressUpdate represents a progress update for an operation or step.
type ProgressUpdate struct {
	OperationID    string                 `json:"operation_id"`
	StepID         string                 `json:"step_id,omitempty"`
	Progress       float64                `json:"progress"` // 0-100
	Message        string                 `json:"message,omitempty"`
	ItemsProcessed int64                  `json:"items_processed,omitempty"`
	ItemsTotal     int64                  `json:"items_total,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// OperationResponse is returned when an operation is accepted for execution.
type OperationResponse struct {
	OperationID  string          `json:"operation_id"`
	Status       OperationStatus `json:"status"`
	Message      string          `json:"message"`
	StartedAt    time.Time       `json:"started_at"`
	WebSocketURL string          `json:"websocket_url,omitempty"`
}
