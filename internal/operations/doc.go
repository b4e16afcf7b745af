// Package operations provides the step execution framework that drives
// batch screening pipelines.
//
// A pipeline turns an acquisition directory full of evaluation workbooks
// and intensity TIFFs into screening verdicts, a combined CSV table, and
// an HTML batch report. The framework supports:
//
//   - Step-based execution with dependency management
//   - Configurable retry logic and error handling
//   - Real-time progress tracking via WebSocket
//   - Parallel and sequential execution modes
//   - A pipeline manifest recording the data each step produced
//
// Core Components:
//
// Manager: The main orchestrator that manages operation execution, step
// registration, and state management. It coordinates the execution of
// steps based on their dependencies and configured execution mode.
//
// Step: An interface that defines a single unit of work in the operation.
// Steps can have dependencies on other steps and are executed in the
// correct order. The concrete pipeline is discover, load, metrics,
// screen, export, and report.
//
// Registry: Manages the registration and retrieval of steps. It validates
// dependencies and provides topological sorting for execution order.
//
// State: Tracks the runtime state of both the operation and individual
// steps, including progress, errors, and metadata. Steps hand loaded runs
// and screening results to each other through the shared state.
//
// Config: Provides configuration options for operation execution,
// including timeouts, retry policies, and execution modes.
//
// Example usage:
//
//	// Create a new operation manager
//	manager := operations.NewManager(wsHub, nil, nil)
//
//	// Register the pipeline steps
//	for _, step := range operations.StepFactory(paths, st, cfg.Screening, logger, options) {
//		manager.RegisterStep(step)
//	}
//
//	// Configure operation
//	config := operations.NewConfigBuilder().
//		WithExecutionMode(operations.ExecutionModeSequential).
//		WithRetryConfig(operations.NewRetryConfig()).
//		Build()
//	manager.SetConfig(config)
//
//	// Execute operation
//	req := operations.OperationRequest{
//		Mode:      operations.ModeFull,
//		Directory: "/data/acquisitions/plate-07",
//	}
//	resp, err := manager.Execute(ctx, req)
//
// The package integrates with the WebSocket hub to provide real-time
// updates on operation progress and step status changes.
package operations
