package testutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imfcscli/internal/operations"
)

// CreateTestOperationState creates a operation state for testing
func CreateTestOperationState(id string) *operations.OperationState {
	state := operations.NewOperationState(id)
	state.SetConfig(operations.ContextKeyDirectory, "/data/acquisitions/test")
	state.SetConfig(operations.ContextKeyMode, operations.ModeInitial)
	return state
}

// CreateTestStepState creates a step state for testing
func CreateTestStepState(id, name string) *operations.StepState {
	return operations.NewStepState(id, name)
}

// CreateTestConfig creates a test configuration
func CreateTestConfig() *operations.Config {
	return operations.NewConfigBuilder().
		WithExecutionMode(operations.ExecutionModeSequential).
		WithRetryConfig(operations.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		}).
		WithStepTimeout(operations.StepIDDiscover, 1*time.Second).
		WithStepTimeout(operations.StepIDLoad, 1*time.Second).
		WithStepTimeout(operations.StepIDMetrics, 1*time.Second).
		WithStepTimeout(operations.StepIDScreen, 1*time.Second).
		WithStepTimeout(operations.StepIDExport, 1*time.Second).
		WithStepTimeout(operations.StepIDReport, 1*time.Second).
		Build()
}

// CreateTestRegistry creates a registry with test steps
func CreateTestRegistry() *operations.Registry {
	registry := operations.NewRegistry()

	// Register test steps
	registry.Register(CreateSuccessfulStep("step1", "step 1"))
	registry.Register(CreateSuccessfulStep("step2", "step 2"))
	registry.Register(CreateSuccessfulStep("step3", "step 3"))

	return registry
}

// CreateSuccessfulStep creates a step that always succeeds
func CreateSuccessfulStep(id, name string, deps ...string) *MockStep {
	return &MockStep{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			// Simulate some work
			stepState := state.GetStep(id)
			if stepState != nil {
				stepState.UpdateProgress(50, "Processing...")
				// Use context-aware timing instead of time.Sleep
				timer := time.NewTimer(10 * time.Millisecond)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					// Continue processing
				}
				stepState.UpdateProgress(100, "Completed")
			}
			return nil
		},
	}
}

// CreateFailingStep creates a step that always fails
func CreateFailingStep(id, name string, err error, deps ...string) *MockStep {
	if err == nil {
		err = errors.New("step failed")
	}

	return &MockStep{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			return err
		},
	}
}

// CreateRetryableStep creates a step that fails then succeeds
func CreateRetryableStep(id, name string, failCount int, deps ...string) *MockStep {
	attempts := 0

	return &MockStep{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			attempts++
			if attempts <= failCount {
				return operations.NewExecutionError(id, errors.New("temporary failure"), true)
			}
			return nil
		},
	}
}

// CreateSlowStep creates a step that takes a specific duration
func CreateSlowStep(id, name string, duration time.Duration, deps ...string) *MockStep {
	return &MockStep{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			select {
			case <-time.After(duration):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// CreateValidationFailingStep creates a step that fails validation
func CreateValidationFailingStep(id, name string, validationErr error, deps ...string) *MockStep {
	if validationErr == nil {
		validationErr = errors.New("validation failed")
	}

	return &MockStep{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ValidateFunc: func(state *operations.OperationState) error {
			return validationErr
		},
	}
}

// CreateContextAwareStep creates a step that reads/writes context
func CreateContextAwareStep(id, name string, readKey, writeKey string, writeValue interface{}, deps ...string) *MockStep {
	return &MockStep{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			// Read from context if readKey is provided
			if readKey != "" {
				if val, ok := state.GetContext(readKey); ok {
					// Log or use the value
					_ = val
				}
			}

			// Write to context if writeKey is provided
			if writeKey != "" {
				state.SetContext(writeKey, writeValue)
			}

			return nil
		},
	}
}

// CreatePipelineSteps creates mock steps mirroring the screening pipeline topology
func CreatePipelineSteps() []operations.Step {
	// discover -> load -> metrics -> screen -> export
	//                  \________________________> report (also needs screen)
	discover := CreateSuccessfulStep(operations.StepIDDiscover, "Discover Runs")
	load := CreateSuccessfulStep(operations.StepIDLoad, "Load Runs", operations.StepIDDiscover)
	metrics := CreateSuccessfulStep(operations.StepIDMetrics, "Compute Metrics", operations.StepIDLoad)
	screen := CreateSuccessfulStep(operations.StepIDScreen, "Screen Runs", operations.StepIDMetrics)
	export := CreateSuccessfulStep(operations.StepIDExport, "Export Results", operations.StepIDScreen)
	report := CreateSuccessfulStep(operations.StepIDReport, "Generate Report", operations.StepIDLoad, operations.StepIDScreen)

	return []operations.Step{discover, load, metrics, screen, export, report}
}

// CreateDiamondSteps creates steps with a diamond dependency pattern
func CreateDiamondSteps() []operations.Step {
	//     A
	//    / \
	//   B   C
	//    \ /
	//     D

	stepA := CreateSuccessfulStep("A", "step A")
	stepB := CreateSuccessfulStep("B", "step B", "A")
	stepC := CreateSuccessfulStep("C", "step C", "A")
	stepD := CreateSuccessfulStep("D", "step D", "B", "C")

	return []operations.Step{stepA, stepB, stepC, stepD}
}

// CreateOperationRequest creates a test operation request
func CreateOperationRequest(mode string) operations.OperationRequest {
	return operations.OperationRequest{
		ID:        fmt.Sprintf("test-operation-%d", time.Now().UnixNano()),
		Mode:      mode,
		Directory: "/data/acquisitions/test",
		Parameters: map[string]interface{}{
			"test": true,
		},
	}
}

// StepBuilder provides a fluent interface for creating test steps
type StepBuilder struct {
	step *MockStep
}

// NewStepBuilder creates a new step builder
func NewStepBuilder(id, name string) *StepBuilder {
	return &StepBuilder{
		step: &MockStep{
			IDValue:   id,
			NameValue: name,
		},
	}
}

// WithDependencies sets the step dependencies
func (b *StepBuilder) WithDependencies(deps ...string) *StepBuilder {
	b.step.DependenciesValue = deps
	return b
}

// WithExecute sets the execute function
func (b *StepBuilder) WithExecute(fn func(context.Context, *operations.OperationState) error) *StepBuilder {
	b.step.ExecuteFunc = fn
	return b
}

// WithValidate sets the validate function
func (b *StepBuilder) WithValidate(fn func(*operations.OperationState) error) *StepBuilder {
	b.step.ValidateFunc = fn
	return b
}

// Build returns the constructed step
func (b *StepBuilder) Build() *MockStep {
	return b.step
}
