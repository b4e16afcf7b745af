package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Data types tracked by the manifest
const (
	DataTypeWorkbooks       = "workbooks"
	DataTypeIntensityImages = "intensity_images"
	DataTypeScreeningCSV    = "screening_results"
	DataTypeReports         = "reports"
)

// DefaultTotalSteps is the number of steps in the full screening pipeline
const DefaultTotalSteps = 6

// PipelineManifest is the single source of truth for one pipeline run: what
// data exists on disk, which steps ran, and how far the operation got.
type PipelineManifest struct {
	mu sync.RWMutex `json:"-"`

	// Identity
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	StartTime   time.Time `json:"start_time"`

	// Configuration
	Directory string                 `json:"directory,omitempty"`
	Mode      string                 `json:"mode"`
	Config    map[string]interface{} `json:"config,omitempty"`

	// Available data tracking
	AvailableData map[string]*DataInfo `json:"available_data"`

	// Execution tracking
	CompletedSteps []StepExecution `json:"completed_steps"`
	TotalSteps     int             `json:"total_steps"`

	// Current status
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	LastUpdated time.Time `json:"last_updated"`
	Error       string    `json:"error,omitempty"`
}

// DataInfo tracks information about available data
type DataInfo struct {
	Type        string                 `json:"type"`         // Type of data (e.g., "workbooks")
	Location    string                 `json:"location"`     // Directory where data is stored
	FileCount   int                    `json:"file_count"`   // Number of files
	FilePattern string                 `json:"file_pattern"` // Pattern of files (e.g., "*.xlsx")
	TotalSize   int64                  `json:"total_size"`   // Total size in bytes
	Files       []string               `json:"files"`        // List of file names
	CreatedAt   time.Time              `json:"created_at"`   // When this data was created
	CreatedBy   string                 `json:"created_by"`   // Which step created this
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StepExecution tracks the execution of a single step
type StepExecution struct {
	StepID     string                 `json:"step_id"`
	StepName   string                 `json:"step_name"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	Duration   string                 `json:"duration"`
	Status     string                 `json:"status"`      // "completed", "failed", "skipped"
	OutputData []string               `json:"output_data"` // Types of data produced
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewPipelineManifest creates a new pipeline manifest for one acquisition
// directory
func NewPipelineManifest(operationID, directory string) *PipelineManifest {
	return &PipelineManifest{
		ID:             fmt.Sprintf("manifest-%d", time.Now().Unix()),
		OperationID:    operationID,
		StartTime:      time.Now(),
		Directory:      directory,
		Mode:           ModeFull,
		AvailableData:  make(map[string]*DataInfo),
		CompletedSteps: []StepExecution{},
		TotalSteps:     DefaultTotalSteps,
		Status:         "pending",
		LastUpdated:    time.Now(),
	}
}

// HasData checks if a specific type of data is available
func (m *PipelineManifest) HasData(dataType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.AvailableData[dataType]
	return exists
}

// GetData returns information about available data
func (m *PipelineManifest) GetData(dataType string) (*DataInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.AvailableData[dataType]
	return data, exists
}

// AddData records newly available data
func (m *PipelineManifest) AddData(dataType string, info *DataInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info.CreatedAt = time.Now()
	m.AvailableData[dataType] = info
	m.LastUpdated = time.Now()
}

// RecordStepStart records the start of a step execution
func (m *PipelineManifest) RecordStepStart(stepID, stepName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A retried step reuses its existing entry
	for i, step := range m.CompletedSteps {
		if step.StepID == stepID {
			m.CompletedSteps[i].StartTime = time.Now()
			m.CompletedSteps[i].Status = "running"
			m.LastUpdated = time.Now()
			return
		}
	}

	m.CompletedSteps = append(m.CompletedSteps, StepExecution{
		StepID:    stepID,
		StepName:  stepName,
		StartTime: time.Now(),
		Status:    "running",
	})
	m.LastUpdated = time.Now()
}

// RecordStepCompletion records the completion of a step
func (m *PipelineManifest) RecordStepCompletion(stepID string, outputData []string, metadata map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, step := range m.CompletedSteps {
		if step.StepID == stepID {
			m.CompletedSteps[i].EndTime = time.Now()
			m.CompletedSteps[i].Duration = time.Since(step.StartTime).String()
			m.CompletedSteps[i].Status = "completed"
			m.CompletedSteps[i].OutputData = outputData
			m.CompletedSteps[i].Metadata = metadata
			break
		}
	}
	m.LastUpdated = time.Now()
}

// RecordStepFailure records a step failure
func (m *PipelineManifest) RecordStepFailure(stepID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, step := range m.CompletedSteps {
		if step.StepID == stepID {
			m.CompletedSteps[i].EndTime = time.Now()
			m.CompletedSteps[i].Duration = time.Since(step.StartTime).String()
			m.CompletedSteps[i].Status = "failed"
			m.CompletedSteps[i].Error = err.Error()
			break
		}
	}
	m.Status = "failed"
	m.Error = fmt.Sprintf("step %s failed: %v", stepID, err)
	m.LastUpdated = time.Now()
}

// IsStepCompleted checks if a step has been completed
func (m *PipelineManifest) IsStepCompleted(stepID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, step := range m.CompletedSteps {
		if step.StepID == stepID && step.Status == "completed" {
			return true
		}
	}
	return false
}

// ScanDataDirectory scans a directory and updates available data
func (m *PipelineManifest) ScanDataDirectory(dataType, location, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(location); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", location)
	}

	searchPattern := filepath.Join(location, pattern)
	files, err := filepath.Glob(searchPattern)
	if err != nil {
		return fmt.Errorf("failed to scan directory: %w", err)
	}

	var totalSize int64
	fileNames := make([]string, 0, len(files))
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			totalSize += info.Size()
			fileNames = append(fileNames, filepath.Base(file))
		}
	}

	m.AvailableData[dataType] = &DataInfo{
		Type:        dataType,
		Location:    location,
		FileCount:   len(fileNames),
		FilePattern: pattern,
		TotalSize:   totalSize,
		Files:       fileNames,
		CreatedAt:   time.Now(),
	}

	m.LastUpdated = time.Now()
	return nil
}

// SaveToFile saves the manifest to a JSON file
func (m *PipelineManifest) SaveToFile(filepath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}

	return nil
}

// LoadManifestFromFile loads a manifest from a JSON file
func LoadManifestFromFile(filepath string) (*PipelineManifest, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest PipelineManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return &manifest, nil
}

// Clone creates a deep copy of the manifest
func (m *PipelineManifest) Clone() *PipelineManifest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// JSON roundtrip keeps the copy honest as fields evolve
	data, _ := json.Marshal(m)
	var clone PipelineManifest
	json.Unmarshal(data, &clone)

	return &clone
}

// GetProgress calculates overall progress percentage
func (m *PipelineManifest) GetProgress() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.CompletedSteps) == 0 {
		return 0
	}

	completed := 0
	for _, step := range m.CompletedSteps {
		if step.Status == "completed" {
			completed++
		}
	}

	total := m.TotalSteps
	if total <= 0 {
		total = DefaultTotalSteps
	}
	if completed > total {
		completed = total
	}
	return (completed * 100) / total
}
