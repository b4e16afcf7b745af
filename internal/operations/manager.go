package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager orchestrates operation execution
type Manager struct {
	registry    *Registry
	config      *Config
	hub         WebSocketHub
	broadcaster *StatusBroadcaster

	// Active operations
	mu         sync.RWMutex
	operations map[string]*OperationState
}

// NewManager creates a new operation manager
func NewManager(hub WebSocketHub, registry *Registry, config *Config) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}

	// Create status broadcaster for centralized status management
	broadcaster := NewStatusBroadcaster(hub, slog.Default())

	return &Manager{
		registry:    registry,
		config:      config,
		hub:         hub,
		broadcaster: broadcaster,
		operations:  make(map[string]*OperationState),
	}
}

// RegisterStep registers a step with the manager
func (m *Manager) RegisterStep(step Step) error {
	return m.registry.Register(step)
}

// SetConfig updates the operation configuration
func (m *Manager) SetConfig(config *Config) {
	if config != nil {
		m.config = config
	}
}

// GetRegistry returns the registry for accessing registered steps
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetBroadcaster returns the status broadcaster for centralized status updates
func (m *Manager) GetBroadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// Execute runs an operation with the given request
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationResponse, error) {
	// Generate operation ID if not provided
	if req.ID == "" {
		req.ID = fmt.Sprintf("operation-%d", time.Now().Unix())
	}

	// Create operation state
	state := NewOperationState(req.ID)

	// Set configuration from request
	if req.Directory != "" {
		state.SetConfig(ContextKeyDirectory, req.Directory)
	}
	if req.Mode != "" {
		state.SetConfig(ContextKeyMode, req.Mode)
	}
	if req.RulesPath != "" {
		state.SetConfig(ContextKeyRulesPath, req.RulesPath)
	}

	// Copy additional parameters
	for k, v := range req.Parameters {
		state.SetConfig(k, v)
	}

	// Store operation state
	m.storeOperation(state)
	defer m.removeOperation(req.ID)

	// Determine which steps to run based on request
	var steps []Step
	stepParam, hasStep := req.Parameters["step"].(string)

	if hasStep && stepParam != "" && stepParam != "full_pipeline" {
		// Single step requested
		requestedStep, err := m.registry.Get(stepParam)
		if err != nil || requestedStep == nil {
			if err == nil {
				err = fmt.Errorf("requested step not found: %s", stepParam)
			}
			m.logOperationError(ctx, req.ID, err)
			state.Fail(err)
			return m.createResponse(state), err
		}
		steps = []Step{requestedStep}

		slog.InfoContext(ctx, "executing_single_step",
			slog.String("step_id", stepParam),
			slog.String("operation_id", req.ID))
	} else {
		// Full pipeline requested or no step specified
		var err error
		steps, err = m.registry.GetDependencyOrder()
		if err != nil {
			m.logOperationError(ctx, req.ID, fmt.Errorf("failed to get dependency order: %w", err))
			state.Fail(err)
			return m.createResponse(state), err
		}

		slog.InfoContext(ctx, "executing_full_pipeline",
			slog.Int("step_count", len(steps)),
			slog.String("operation_id", req.ID))
	}

	// Initialize step states. Broadcaster entries are keyed by step ID so
	// that UpdateStepProgress calls from inside Execute match correctly;
	// the human-readable name still lives in the in-memory StepState.
	stepIDs := make([]string, len(steps))
	for i, step := range steps {
		state.SetStep(step.ID(), NewStepState(step.ID(), step.Name()))
		stepIDs[i] = step.ID()
	}

	// Create operation in broadcaster with all steps
	m.broadcaster.CreateOperation(req.ID, stepIDs)

	// Start operation execution
	state.Start()
	m.broadcaster.StartOperation(req.ID)

	// Execute steps based on execution mode
	var err error
	if m.config.ExecutionMode == ExecutionModeSequential {
		err = m.executeSequential(ctx, state, steps)
	} else {
		err = m.executeParallel(ctx, state, steps)
	}

	// Update final operation state
	if err != nil {
		state.Fail(err)
		m.broadcaster.FailOperation(req.ID, err)
	} else {
		state.Complete()
		m.broadcaster.CompleteOperation(req.ID, "Operation completed successfully")
	}

	return m.createResponse(state), err
}

// executeSequential executes steps one by one
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	slog.InfoContext(ctx, "sequential_execution_start",
		slog.String("operation_id", state.ID),
		slog.Int("step_count", len(steps)))
	for i, step := range steps {
		select {
		case <-ctx.Done():
			slog.WarnContext(ctx, "operation_cancelled",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()))
			return NewCancellationError(step.ID())
		default:
			// Check if step was already skipped due to failed dependencies
			stepState := state.GetStep(step.ID())
			if stepState != nil && stepState.Status == StepStatusSkipped {
				slog.InfoContext(ctx, "step_skipped",
					slog.String("operation_id", state.ID),
					slog.String("step", step.ID()),
					slog.Int("step_number", i+1),
					slog.Int("total_steps", len(steps)))
				continue
			}

			// Sequential execution requires the previous step to be done
			if i > 0 {
				prevStep := steps[i-1]
				prevState := state.GetStep(prevStep.ID())
				if prevState != nil && prevState.Status != StepStatusCompleted && prevState.Status != StepStatusSkipped {
					if m.config.ContinueOnError && prevState.Status == StepStatusFailed {
						slog.InfoContext(ctx, "continuing_after_failed_step",
							slog.String("operation_id", state.ID),
							slog.String("step", step.ID()),
							slog.String("previous_step", prevStep.ID()),
							slog.String("previous_status", string(prevState.Status)))
					} else {
						slog.ErrorContext(ctx, "previous_step_incomplete",
							slog.String("operation_id", state.ID),
							slog.String("step", step.ID()),
							slog.String("previous_step", prevStep.ID()),
							slog.String("previous_status", string(prevState.Status)))
						stepState.Skip(fmt.Sprintf("Previous step %s not completed", prevStep.ID()))
						m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Skipped: previous step %s not completed", prevStep.ID()))
						continue
					}
				}
			}

			slog.InfoContext(ctx, "executing_step",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()),
				slog.Int("step_number", i+1),
				slog.Int("total_steps", len(steps)))
			if err := m.executeStep(ctx, state, step); err != nil {
				m.logStepError(ctx, state.ID, step.ID(), err)
				if !m.config.ContinueOnError {
					// Skip all dependent steps
					m.skipDependentSteps(state, steps, step.ID())
					return err
				}
				slog.WarnContext(ctx, "step_failed_continuing",
					slog.String("operation_id", state.ID),
					slog.String("step", step.ID()),
					slog.String("error", err.Error()))
			} else {
				updatedState := state.GetStep(step.ID())
				if updatedState.Status == StepStatusCompleted {
					slog.InfoContext(ctx, "step_completed_successfully",
						slog.String("operation_id", state.ID),
						slog.String("step", step.ID()))
				} else {
					slog.WarnContext(ctx, "step_finished_wrong_status",
						slog.String("operation_id", state.ID),
						slog.String("step", step.ID()),
						slog.String("status", string(updatedState.Status)))
				}
			}
		}
	}
	slog.InfoContext(ctx, "all_steps_completed",
		slog.String("operation_id", state.ID))
	return nil
}

// executeParallel executes steps level by level: every step whose
// dependencies completed in earlier levels runs concurrently with the
// other steps of its level, bounded by MaxConcurrency. A failure skips
// the failed step's dependents and, unless ContinueOnError is set, stops
// before the next level starts.
func (m *Manager) executeParallel(ctx context.Context, state *OperationState, steps []Step) error {
	levels := groupByDependencyLevel(steps)

	slog.InfoContext(ctx, "parallel_execution_start",
		slog.String("operation_id", state.ID),
		slog.Int("step_count", len(steps)),
		slog.Int("level_count", len(levels)))

	var firstErr error
	for levelIdx, level := range levels {
		select {
		case <-ctx.Done():
			slog.WarnContext(ctx, "operation_cancelled",
				slog.String("operation_id", state.ID),
				slog.Int("level", levelIdx))
			return NewCancellationError(level[0].ID())
		default:
		}

		var g errgroup.Group
		if m.config.MaxConcurrency > 0 {
			g.SetLimit(m.config.MaxConcurrency)
		}

		var mu sync.Mutex
		var failed []string

		for _, step := range level {
			stepState := state.GetStep(step.ID())
			if stepState != nil && stepState.Status == StepStatusSkipped {
				continue
			}

			g.Go(func() error {
				slog.InfoContext(ctx, "executing_step",
					slog.String("operation_id", state.ID),
					slog.String("step", step.ID()),
					slog.Int("level", levelIdx))
				if err := m.executeStep(ctx, state, step); err != nil {
					m.logStepError(ctx, state.ID, step.ID(), err)
					mu.Lock()
					failed = append(failed, step.ID())
					mu.Unlock()
					return err
				}
				return nil
			})
		}

		err := g.Wait()
		for _, id := range failed {
			m.skipDependentSteps(state, steps, id)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !m.config.ContinueOnError {
				return firstErr
			}
			slog.WarnContext(ctx, "level_failed_continuing",
				slog.String("operation_id", state.ID),
				slog.Int("level", levelIdx),
				slog.String("error", err.Error()))
		}
	}

	slog.InfoContext(ctx, "all_steps_completed",
		slog.String("operation_id", state.ID))
	if m.config.ContinueOnError {
		return nil
	}
	return firstErr
}

// groupByDependencyLevel splits the steps into levels so that a step's
// dependencies always land in an earlier level. Dependencies outside the
// given slice are ignored, which makes a single-step run one level.
func groupByDependencyLevel(steps []Step) [][]Step {
	present := make(map[string]int, len(steps))
	for _, step := range steps {
		present[step.ID()] = -1
	}

	assign := func(step Step) int {
		level := 0
		for _, dep := range step.GetDependencies() {
			if d, ok := present[dep]; ok && d+1 > level {
				level = d + 1
			}
		}
		return level
	}

	// Steps arrive in dependency order, so one pass settles every level
	maxLevel := 0
	for _, step := range steps {
		level := assign(step)
		present[step.ID()] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]Step, maxLevel+1)
	for _, step := range steps {
		level := present[step.ID()]
		levels[level] = append(levels[level], step)
	}
	return levels
}

// executeStep executes a single step with retry logic
func (m *Manager) executeStep(ctx context.Context, state *OperationState, step Step) error {
	m.logStepStart(ctx, state.ID, step.ID())
	stepState := state.GetStep(step.ID())
	if stepState == nil {
		slog.ErrorContext(ctx, "step_state_not_found",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()))
		return NewFatalError("step state not found", nil)
	}

	// Check dependencies
	slog.DebugContext(ctx, "checking_dependencies",
		slog.String("operation_id", state.ID),
		slog.String("step", step.ID()))
	if err := m.checkDependencies(state, step); err != nil {
		slog.WarnContext(ctx, "dependencies_not_met",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.String("error", err.Error()))
		stepState.Skip(fmt.Sprintf("Dependencies not met: %v", err))
		m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Skipped: dependencies not met - %v", err))
		return err
	}

	// Validate step
	slog.DebugContext(ctx, "validating_step",
		slog.String("operation_id", state.ID),
		slog.String("step", step.ID()))
	if err := step.Validate(state); err != nil {
		slog.WarnContext(ctx, "validation_failed",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.String("error", err.Error()))
		stepState.Skip(fmt.Sprintf("Validation failed: %v", err))
		m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Skipped: validation failed - %v", err))
		return NewValidationError(step.ID(), err.Error())
	}

	// Get step timeout
	timeout := m.config.GetStepTimeout(step.ID())
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Execute with retries
	retryConfig := m.config.RetryConfig
	var lastErr error

	for attempt := 1; attempt <= retryConfig.MaxAttempts; attempt++ {
		stepState.Start()
		m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), "Step started")

		slog.InfoContext(ctx, "calling_execute",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt))
		startTime := time.Now()
		err := step.Execute(stepCtx, state)
		duration := time.Since(startTime)

		if err == nil {
			m.logStepComplete(ctx, state.ID, step.ID(), duration)
			stepState.Complete()
			m.broadcaster.CompleteStep(state.ID, step.ID(), "Step completed successfully")

			return nil
		}

		slog.ErrorContext(ctx, "step_execution_failed",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))

		// Log step metadata for debugging
		if stepState.Metadata != nil {
			if metaJSON, err := json.Marshal(stepState.Metadata); err == nil {
				slog.ErrorContext(ctx, "step_metadata",
					slog.String("operation_id", state.ID),
					slog.String("step", step.ID()),
					slog.String("metadata", string(metaJSON)))
			}
		}

		lastErr = err

		// Check if error is retryable
		if !IsRetryable(err) || attempt >= retryConfig.MaxAttempts {
			stepState.Fail(err)
			m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Step failed: %v", err))
			return WrapError(err, step.ID(), "step execution failed")
		}

		// Calculate retry delay
		delay := m.calculateRetryDelay(attempt, retryConfig)
		slog.WarnContext(ctx, "step_retry",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", retryConfig.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		// Wait before retry
		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-stepCtx.Done():
			stepState.Fail(NewTimeoutError(step.ID(), timeout.String()))
			m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Step timed out after %s", timeout))
			return NewTimeoutError(step.ID(), timeout.String())
		}
	}

	// All retries exhausted
	stepState.Fail(lastErr)
	m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Step failed after %d retries: %v", retryConfig.MaxAttempts, lastErr))
	return WrapError(lastErr, step.ID(), "step execution failed after retries")
}

// skipDependentSteps marks all steps that depend on the failed step as skipped
func (m *Manager) skipDependentSteps(state *OperationState, steps []Step, failedStepID string) {
	for _, step := range steps {
		for _, dep := range step.GetDependencies() {
			if dep == failedStepID {
				stepState := state.GetStep(step.ID())
				if stepState != nil && stepState.Status == StepStatusPending {
					stepState.Skip(fmt.Sprintf("Dependency %s failed", failedStepID))
					m.broadcaster.UpdateStepProgress(state.ID, step.ID(), int(stepState.Progress), fmt.Sprintf("Skipped: dependency %s failed", failedStepID))
					// Recursively skip steps that depend on this one
					m.skipDependentSteps(state, steps, step.ID())
				}
				break
			}
		}
	}
}

// checkDependencies verifies that all dependencies are satisfied
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStep(dep)
		if depState == nil {
			return fmt.Errorf("dependency %s not found", dep)
		}
		if depState.Status != StepStatusCompleted {
			return fmt.Errorf("dependency %s not completed (status: %s)", dep, depState.Status)
		}
	}
	return nil
}

// calculateRetryDelay returns the exponential backoff delay before the
// next attempt, capped at MaxDelay.
func (m *Manager) calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	delay := config.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay >= config.MaxDelay {
			return config.MaxDelay
		}
	}
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// createResponse creates an operation response from state
func (m *Manager) createResponse(state *OperationState) *OperationResponse {
	resp := &OperationResponse{
		ID:       state.ID,
		Status:   state.Status,
		Duration: state.Duration(),
		Steps:    state.Steps,
	}

	if state.Error != nil {
		resp.Error = state.Error.Error()
	}

	return resp
}

// GetOperation retrieves the state of a running operation
func (m *Manager) GetOperation(id string) (*OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.operations[id]
	if !exists {
		return nil, fmt.Errorf("operation %s not found", id)
	}

	return state.Clone(), nil
}

// ListOperations returns all active operations
func (m *Manager) ListOperations() []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	operations := make([]*OperationState, 0, len(m.operations))
	for _, state := range m.operations {
		operations = append(operations, state.Clone())
	}

	return operations
}

// CancelOperation cancels a running operation
func (m *Manager) CancelOperation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.operations[id]
	if !exists {
		return fmt.Errorf("operation %s not found", id)
	}

	state.Cancel()
	m.broadcaster.CancelOperation(id)
	return nil
}

// storeOperation stores an operation state
func (m *Manager) storeOperation(state *OperationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[state.ID] = state
}

// removeOperation removes an operation state
func (m *Manager) removeOperation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, id)
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}
