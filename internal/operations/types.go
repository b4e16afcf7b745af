package operations

import (
	"time"
)

// Pipeline step identifiers
const (
	StepIDDiscover = "discover"
	StepIDLoad     = "load"
	StepIDMetrics  = "metrics"
	StepIDScreen   = "screen"
	StepIDExport   = "export"
	StepIDReport   = "report"
)

// Pipeline step names
const (
	StepNameDiscover = "Run Discovery"
	StepNameLoad     = "Workbook Loading"
	StepNameMetrics  = "Quality Metrics"
	StepNameScreen   = "Rule Screening"
	StepNameExport   = "Result Export"
	StepNameReport   = "Report Generation"
)

// Context keys for operation state
const (
	ContextKeyDirectory    = "directory"
	ContextKeyMode         = "mode"
	ContextKeyRulesPath    = "rules_path"
	ContextKeyRunGroups    = "run_groups"
	ContextKeyBatchLoad    = "batch_load"
	ContextKeySummaries    = "run_summaries"
	ContextKeyResults      = "screening_results"
	ContextKeyRunsFound    = "runs_found"
	ContextKeyRunsLoaded   = "runs_loaded"
	ContextKeyCombinedCSV  = "combined_csv"
	ContextKeyReportPath   = "report_path"
)

// Operation modes. Initial rebuilds the batch from scratch, accumulative
// only touches runs whose workbooks changed since the last index, full
// forces a reload of everything including cached summaries.
const (
	ModeInitial      = "initial"
	ModeAccumulative = "accumulative"
	ModeFull         = "full"
)

// Default timeouts
const (
	DefaultStepTimeout     = 30 * time.Minute
	DefaultDiscoverTimeout = 2 * time.Minute
	DefaultLoadTimeout     = 30 * time.Minute
	DefaultMetricsTimeout  = 15 * time.Minute
	DefaultScreenTimeout   = 5 * time.Minute
	DefaultExportTimeout   = 5 * time.Minute
	DefaultReportTimeout   = 5 * time.Minute
)

// ExecutionMode defines how steps are executed
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// RetryConfig defines retry behavior for steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// StepExecutionResult represents the result of a step execution
type StepExecutionResult struct {
	StepID    string                 `json:"step_id"`
	Success   bool                   `json:"success"`
	Output    string                 `json:"output,omitempty"`
	Error     error                  `json:"error,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// OperationRequest represents a request to execute an operation
type OperationRequest struct {
	ID         string                 `json:"id"`
	Mode       string                 `json:"mode"`
	Directory  string                 `json:"directory"`
	RulesPath  string                 `json:"rules_path,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// OperationResponse represents the response from an operation execution
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`
}

// ProgressUpdate represents a progress update from a step
type ProgressUpdate struct {
	StepID   string                 `json:"step_id"`
	Progress float64                `json:"progress"`
	Message  string                 `json:"message"`
	ETA      string                 `json:"eta,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StepMetrics represents performance metrics for a step
type StepMetrics struct {
	StepID          string        `json:"step_id"`
	ExecutionCount  int           `json:"execution_count"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	AverageDuration time.Duration `json:"average_duration"`
	LastExecution   *time.Time    `json:"last_execution,omitempty"`
}

// OperationType represents an available operation type
type OperationType struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Dependencies []string              `json:"dependencies"`
	CanRunAlone  bool                  `json:"can_run_alone"`
	Parameters   []ParameterDefinition `json:"parameters"`
}

// ParameterDefinition defines a parameter for an operation type
type ParameterDefinition struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // string, number, path, select, boolean
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Options     []string    `json:"options,omitempty"` // For select type
}
